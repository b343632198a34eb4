package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/identity"
	"mailecho/backend/internal/mailbox"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/storage"
	redisstore "mailecho/backend/internal/storage/redis"
)

// IngestStats 一轮轮询的处理统计。
type IngestStats struct {
	Fetched    int
	Stored     int
	Duplicates int
	Dropped    int
	Failed     int
}

// IngestService 入站管线：把邮件源里的未读邮件
// 解析、判重并固化为 blob 加记录。
//
// 确认语义：不可解析、别名未知、别名已停用和重复邮件
// 都会向源确认（这类邮件重试也不会有不同结果）；
// 持久化失败则不确认，下一轮轮询重新处理同一封。
type IngestService struct {
	store     storage.Store
	blobStore blob.Store
	cache     *redisstore.DedupeCache // 可为 nil，此时只靠记录库判重
	cfg       *config.Config
	metrics   *monitoring.Metrics
	log       *zap.Logger

	botID       string
	botUsername string
}

// NewIngestService 创建入站管线。cache 传 nil 表示不启用 Redis 判重。
func NewIngestService(
	store storage.Store,
	blobStore blob.Store,
	cache *redisstore.DedupeCache,
	cfg *config.Config,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		blobStore: blobStore,
		cache:     cache,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
	}
}

// SetBotIdentity 注入当前机器人身份，新记录以此判断是否需要迁移。
func (s *IngestService) SetBotIdentity(botID, botUsername string) {
	s.botID = botID
	s.botUsername = botUsername
}

// PollOnce 处理一轮邮件源中的全部未读邮件。
// 单封邮件的失败不会中断整轮，只计入统计。
func (s *IngestService) PollOnce(ctx context.Context, source mailbox.Source) (IngestStats, error) {
	s.metrics.IngestPolls.Inc()

	messages, err := source.FetchUnread(ctx)
	if err != nil {
		s.metrics.RecordError("fetch", "ingest")
		return IngestStats{}, fmt.Errorf("fetch unread from %s: %w", source.Name(), err)
	}

	stats := IngestStats{Fetched: len(messages)}
	for _, msg := range messages {
		outcome := s.processMessage(ctx, source, msg)
		s.metrics.RecordIngestOutcome(outcome)

		switch outcome {
		case "stored":
			stats.Stored++
		case "duplicate":
			stats.Duplicates++
		case "failed":
			stats.Failed++
		default:
			stats.Dropped++
		}
	}

	if stats.Fetched > 0 {
		s.log.Info("poll run finished",
			zap.String("source", source.Name()),
			zap.Int("fetched", stats.Fetched),
			zap.Int("stored", stats.Stored),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("dropped", stats.Dropped),
			zap.Int("failed", stats.Failed))
	}
	return stats, nil
}

// processMessage 处理单封邮件，返回结果标签。
func (s *IngestService) processMessage(ctx context.Context, source mailbox.Source, msg mailbox.RawMessage) string {
	parsed, err := mail.ReadMessage(bytes.NewReader(msg.Raw))
	if err != nil {
		s.log.Warn("unparsable message dropped",
			zap.String("uid", msg.UID),
			zap.Error(err))
		s.acknowledge(ctx, source, msg.UID)
		return "dropped_unresolvable"
	}

	aliasID, recipient := identity.ExtractAlias(parsed.Header)
	if aliasID == "" {
		s.log.Warn("no routable recipient, message dropped", zap.String("uid", msg.UID))
		s.acknowledge(ctx, source, msg.UID)
		return "dropped_unresolvable"
	}

	alias, err := s.store.GetAlias(aliasID)
	if err != nil {
		if errors.Is(err, storage.ErrAliasNotFound) {
			s.log.Info("message for unknown alias dropped",
				zap.String("alias_id", aliasID),
				zap.String("uid", msg.UID))
			s.acknowledge(ctx, source, msg.UID)
			return "dropped_unknown"
		}
		s.log.Error("alias lookup failed", zap.String("alias_id", aliasID), zap.Error(err))
		s.metrics.RecordError("storage", "ingest")
		return "failed"
	}
	if !alias.IsActive() {
		s.log.Info("message for disabled alias dropped",
			zap.String("alias_id", aliasID),
			zap.String("uid", msg.UID))
		s.acknowledge(ctx, source, msg.UID)
		return "dropped_disabled"
	}

	now := time.Now().UTC()
	messageID := identity.DeriveMessageID(parsed.Header, msg.UID, now)
	receivedAt := identity.ParseReceivedAt(parsed.Header, now)

	if s.isDuplicate(ctx, messageID) {
		s.log.Debug("duplicate message skipped",
			zap.String("message_id", messageID),
			zap.String("alias_id", aliasID))
		s.acknowledge(ctx, source, msg.UID)
		return "duplicate"
	}

	key := blob.BuildKey(aliasID, receivedAt, messageID)
	meta := blob.Metadata{
		"alias_id":    aliasID,
		"message_id":  messageID,
		"recipient":   recipient,
		"received_at": receivedAt.Format(time.RFC3339),
	}
	if err := s.blobStore.Put(ctx, key, msg.Raw, meta); err != nil {
		s.log.Error("blob persist failed",
			zap.String("message_id", messageID),
			zap.String("key", key),
			zap.Error(err))
		s.metrics.RecordError("blob", "ingest")
		return "failed" // 不确认，下一轮重试
	}

	record := &domain.MessageRecord{
		MessageID:        messageID,
		AliasID:          aliasID,
		OwnerRef:         alias.OwnerRef,
		BotID:            alias.BotID,
		BotUsername:      alias.BotUsername,
		NeedsMigration:   s.botID != "" && alias.BotID != "" && alias.BotID != s.botID,
		RecipientAddress: recipient,
		BlobKey:          key,
		ReceivedAt:       receivedAt,
		State:            domain.RecordStatePending,
		ExpiresAt:        now.Add(domain.RecordRetention),
		CreatedAt:        now,
	}
	if err := s.store.SaveRecord(record); err != nil {
		s.log.Error("record persist failed",
			zap.String("message_id", messageID),
			zap.Error(err))
		s.metrics.RecordError("storage", "ingest")
		return "failed" // 不确认，blob 写入是幂等的
	}

	if s.cache != nil {
		bestEffort(s.log, "mark message seen", func() error {
			return s.cache.MarkSeen(ctx, messageID)
		}, zap.String("message_id", messageID))
	}
	bestEffort(s.log, "touch alias last message", func() error {
		return s.store.UpdateAliasLastMessage(aliasID, now)
	}, zap.String("alias_id", aliasID))

	s.acknowledge(ctx, source, msg.UID)

	s.log.Info("message stored",
		zap.String("message_id", messageID),
		zap.String("alias_id", aliasID),
		zap.String("key", key),
		zap.Bool("needs_migration", record.NeedsMigration))
	return "stored"
}

// isDuplicate 判重：缓存只是快速通道，记录库才是权威。
func (s *IngestService) isDuplicate(ctx context.Context, messageID string) bool {
	if s.cache != nil {
		if seen, err := s.cache.Seen(ctx, messageID); err == nil && seen {
			return true
		}
	}

	_, err := s.store.GetRecord(messageID)
	return err == nil
}

func (s *IngestService) acknowledge(ctx context.Context, source mailbox.Source, uid string) {
	bestEffort(s.log, "acknowledge message", func() error {
		return source.Acknowledge(ctx, uid)
	}, zap.String("uid", uid), zap.String("source", source.Name()))
}
