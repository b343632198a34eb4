package service

import "go.uber.org/zap"

// bestEffort 执行一个允许失败的附带操作。
// 失败只记一条警告日志，不向主流程传播错误，
// 调用点因此能一眼区分哪些副作用是可丢弃的。
func bestEffort(log *zap.Logger, op string, fn func() error, fields ...zap.Field) {
	if err := fn(); err != nil {
		allFields := append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)
		log.Warn("best-effort operation failed", allFields...)
	}
}
