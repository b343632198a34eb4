package blob

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 下载令牌无效
	ErrInvalidToken = errors.New("invalid download token")
	// ErrExpiredToken 下载令牌已过期
	ErrExpiredToken = errors.New("download token expired")
)

// downloadClaims 签名下载链接的 JWT 声明。
type downloadClaims struct {
	BlobKey string `json:"key"`
	jwt.RegisteredClaims
}

// Signer 为 blob 键签发限时下载令牌，等价于对象存储的 presigned URL。
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner 创建签名器。
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Sign 为指定 blob 键签发下载令牌。
func (s *Signer) Sign(key string) (string, error) {
	now := time.Now()
	claims := downloadClaims{
		BlobKey: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mailecho",
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign download token: %w", err)
	}
	return signed, nil
}

// Verify 校验下载令牌并返回其中的 blob 键。
func (s *Signer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &downloadClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*downloadClaims)
	if !ok || !token.Valid || claims.BlobKey == "" {
		return "", ErrInvalidToken
	}
	return claims.BlobKey, nil
}
