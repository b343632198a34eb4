package service

import (
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/storage"
)

// RetentionService 清理超过保留期的消息记录。
// blob 原文随记录一起失去可达性：下载端点
// 查不到记录就不会再签发任何访问令牌。
type RetentionService struct {
	store   storage.Store
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewRetentionService 创建保留期清理服务。
func NewRetentionService(store storage.Store, metrics *monitoring.Metrics, log *zap.Logger) *RetentionService {
	return &RetentionService{store: store, metrics: metrics, log: log}
}

// ReapExpired 删除所有已过期的记录，返回删除数量。
func (s *RetentionService) ReapExpired() (int, error) {
	removed, err := s.store.DeleteExpiredRecords(time.Now().UTC())
	if err != nil {
		s.metrics.RecordError("storage", "reaper")
		return 0, err
	}

	if removed > 0 {
		s.metrics.RecordsReaped.Add(float64(removed))
		s.log.Info("expired records reaped", zap.Int("removed", removed))
	}
	return removed, nil
}
