package health

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailecho/backend/internal/storage"
	redisstore "mailecho/backend/internal/storage/redis"
)

// Checker 健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewChecker 创建健康检查器。redis 为 nil 时跳过该检查。
func NewChecker(store storage.Store, redis *redisstore.Client, blobRoot string, logger *zap.Logger) *Checker {
	hc := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	hc.health.AddLivenessCheck("storage", func() error {
		return store.Health()
	})

	if redis != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Ping(ctx)
		})
	}

	if blobRoot != "" {
		hc.health.AddReadinessCheck("blob", func() error {
			_, err := os.Stat(blobRoot)
			return err
		})
	}

	return hc
}

// Handler 返回健康检查处理器（/live 与 /ready）。
func (hc *Checker) Handler() http.Handler {
	return hc.health
}
