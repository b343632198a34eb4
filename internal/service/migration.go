package service

import (
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/storage"
)

// MigrationService 处理机器人更换后的归属迁移。
//
// 别名和记录都带着接收它们时在任的机器人身份。
// 换新机器人后，旧身份下的记录不能立刻推送：
// 属主必须先在新机器人上 /start，RebindOwner 把名下
// 别名改绑到新机器人，之后投递路径上的
// EnsureRecordMigrated 再把单条记录逐个迁过来。
type MigrationService struct {
	store   storage.Store
	metrics *monitoring.Metrics
	log     *zap.Logger

	botID       string
	botUsername string
}

// NewMigrationService 创建迁移服务。
func NewMigrationService(store storage.Store, metrics *monitoring.Metrics, log *zap.Logger) *MigrationService {
	return &MigrationService{store: store, metrics: metrics, log: log}
}

// SetBotIdentity 注入当前机器人身份。
func (s *MigrationService) SetBotIdentity(botID, botUsername string) {
	s.botID = botID
	s.botUsername = botUsername
}

// RebindOwner 把属主名下绑定在旧机器人上的别名改绑到当前机器人，
// 并就地迁移这些别名下仍处于 PENDING 的记录，返回改绑的别名数量。
// 已经指向当前机器人的别名原样跳过；PROCESSED/FAILED 的记录不动。
func (s *MigrationService) RebindOwner(ownerRef string) (int, error) {
	if s.botID == "" {
		return 0, nil
	}

	aliases, err := s.store.ListAliasesByOwner(ownerRef)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	migrated := 0
	for _, alias := range aliases {
		if alias.BotID == s.botID {
			continue
		}

		previousBot := alias.BotID
		alias.BotID = s.botID
		alias.BotUsername = s.botUsername
		alias.MigratedAt = &now
		if err := s.store.UpdateAlias(alias); err != nil {
			s.log.Error("alias rebind failed",
				zap.String("alias_id", alias.AliasID),
				zap.Error(err))
			continue
		}

		migrated++
		s.metrics.AliasesMigrated.Inc()
		s.log.Info("alias rebound to current bot",
			zap.String("alias_id", alias.AliasID),
			zap.String("previous_bot", previousBot),
			zap.String("bot_id", s.botID))

		s.sweepPendingRecords(alias.AliasID, now)
	}
	return migrated, nil
}

// sweepPendingRecords 把一个别名下绑定过期的 PENDING 记录改到当前机器人。
// 扫描失败只记日志：漏掉的记录在投递路径上还有一次惰性迁移的机会。
func (s *MigrationService) sweepPendingRecords(aliasID string, now time.Time) {
	records, err := s.store.ListPendingRecordsByAlias(aliasID)
	if err != nil {
		s.log.Error("pending record sweep failed",
			zap.String("alias_id", aliasID), zap.Error(err))
		return
	}

	for _, record := range records {
		if record.BotID == s.botID && !record.NeedsMigration {
			continue
		}
		record.BotID = s.botID
		record.BotUsername = s.botUsername
		record.NeedsMigration = false
		record.MigratedAt = &now
		if err := s.store.UpdateRecord(record); err != nil {
			s.log.Error("record rebind failed",
				zap.String("message_id", record.MessageID), zap.Error(err))
			continue
		}
		s.log.Info("record rebound to current bot",
			zap.String("message_id", record.MessageID),
			zap.String("alias_id", aliasID))
	}
}

// EnsureRecordMigrated 投递前检查单条记录的绑定。
// 返回 true 表示记录可以投递；返回 false 表示别名
// 还挂在旧机器人上，投递保持排队，等属主完成 /start。
func (s *MigrationService) EnsureRecordMigrated(record *domain.MessageRecord) (bool, error) {
	if !record.NeedsMigration {
		return true, nil
	}

	alias, err := s.store.GetAlias(record.AliasID)
	if err != nil {
		return false, err
	}
	if s.botID == "" || alias.BotID != s.botID {
		return false, nil
	}

	now := time.Now().UTC()
	record.NeedsMigration = false
	record.BotID = s.botID
	record.BotUsername = s.botUsername
	record.MigratedAt = &now
	if err := s.store.UpdateRecord(record); err != nil {
		return false, err
	}

	s.log.Info("record migrated to current bot",
		zap.String("message_id", record.MessageID),
		zap.String("alias_id", record.AliasID))
	return true, nil
}
