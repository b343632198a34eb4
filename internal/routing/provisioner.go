package routing

import "context"

// Provisioner 负责在邮件路由层为别名地址开通和停用投递。
// CreateRoute 返回的 routeRef 是提供方内部的路由标识，
// 停用时原样传回 DisableRoute。
type Provisioner interface {
	Name() string
	CreateRoute(ctx context.Context, address string) (routeRef string, err error)
	DisableRoute(ctx context.Context, routeRef string) error
}
