package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/health"
	"mailecho/backend/internal/middleware"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage"
	redisstore "mailecho/backend/internal/storage/redis"
	"mailecho/backend/internal/telegram"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config           *config.Config
	OwnerService     *service.OwnerService
	AliasService     *service.AliasService
	MigrationService *service.MigrationService
	Store            storage.Store
	BlobStore        blob.Store
	Signer           *blob.Signer // 未启用取回时为 nil
	Bot              *telegram.Client
	BotUser          *telegram.User
	RateLimiter      *redisstore.RateLimiter // 未启用 Redis 时为 nil
	Metrics          *monitoring.Metrics
	Health           *health.Checker
	Logger           *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitoringMW.PanicRecovery())
	router.Use(monitoringMW.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 * 1024 * 1024))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	webhookHandler := NewWebhookHandler(
		deps.OwnerService, deps.AliasService, deps.MigrationService,
		deps.Bot, deps.BotUser, deps.Config, deps.Logger)
	retrievalHandler := NewRetrievalHandler(
		deps.Store, deps.BlobStore, deps.Signer, deps.Config, deps.Logger)
	provisionHandler := NewProvisionHandler(
		deps.OwnerService, deps.AliasService, deps.Logger)
	apiKeyAuth := middleware.NewAPIKeyAuth(deps.Config.Provision.APIKeyHash)

	// Telegram 回调
	router.POST("/telegram/webhook", webhookHandler.Handle)

	// 原始邮件取回
	rateLimited := middleware.RateLimit(deps.RateLimiter, 60, time.Minute, deps.Logger)
	router.GET("/email/:aliasID/:messageID", rateLimited, retrievalHandler.Redirect)
	router.GET("/blob/:token", rateLimited, retrievalHandler.Download)

	// 管理接口
	v1 := router.Group("/v1", apiKeyAuth.RequireAPIKey())
	{
		v1.POST("/aliases", provisionHandler.CreateAlias)
		v1.GET("/owners/:ownerRef/aliases", provisionHandler.ListAliases)
		v1.DELETE("/aliases/:aliasID", provisionHandler.DisableAlias)
	}

	// 运维端点
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	if deps.Health != nil {
		healthHandler := gin.WrapH(deps.Health.Handler())
		router.GET("/live", healthHandler)
		router.GET("/ready", healthHandler)
	}

	return router
}
