package routing

import (
	"context"

	"go.uber.org/zap"
)

// CatchAll 依赖域名级 catch-all 投递的提供方：
// 任何别名地址天然可达，开通和停用都不需要外部调用。
// 停用只发生在记录层，入站管线会丢弃发往已停用别名的邮件。
type CatchAll struct {
	log *zap.Logger
}

// NewCatchAll 创建 catch-all 提供方。
func NewCatchAll(log *zap.Logger) *CatchAll {
	return &CatchAll{log: log}
}

func (c *CatchAll) Name() string {
	return "catchall"
}

func (c *CatchAll) CreateRoute(_ context.Context, address string) (string, error) {
	c.log.Debug("catch-all route implicit", zap.String("address", address))
	return address, nil
}

func (c *CatchAll) DisableRoute(_ context.Context, routeRef string) error {
	c.log.Debug("catch-all route disable is a no-op", zap.String("route_ref", routeRef))
	return nil
}
