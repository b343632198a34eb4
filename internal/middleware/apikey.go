package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth 供外部编排系统调用管理接口的认证中间件。
// 配置里只存密钥的 bcrypt 散列，明文永不落盘。
type APIKeyAuth struct {
	keyHash string
}

// NewAPIKeyAuth 创建 API Key 认证中间件。
func NewAPIKeyAuth(keyHash string) *APIKeyAuth {
	return &APIKeyAuth{keyHash: keyHash}
}

// RequireAPIKey 要求请求携带有效的 X-API-Key。
// 未配置散列时管理接口整体关闭。
func (m *APIKeyAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.keyHash == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "provisioning api disabled",
			})
			c.Abort()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(m.keyHash), []byte(apiKey)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
