package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/extract"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/summary"
	"mailecho/backend/internal/telegram"
)

const (
	// recordLookupAttempts 入站管线先写 blob 再写记录，
	// 触发器有可能在记录落库前看到文件，查不到时稍等重试。
	recordLookupAttempts = 5
	recordLookupDelay    = 200 * time.Millisecond

	disableButtonLabel = "🚫 Disable this address"
)

// messageSender 投递所需的 Telegram 客户端能力。
type messageSender interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) error
}

// DeliveryService 投递管线：blob 写入触发后，
// 把对应记录的内容摘要推送给属主。
// PROCESSED 是终态，重复触发同一个 key 不会二次推送。
type DeliveryService struct {
	store      storage.Store
	blobStore  blob.Store
	sender     messageSender
	summarizer summary.Summarizer // 可为 nil，直接走正文截取
	migration  *MigrationService
	cfg        *config.Config
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewDeliveryService 创建投递管线。
func NewDeliveryService(
	store storage.Store,
	blobStore blob.Store,
	sender messageSender,
	summarizer summary.Summarizer,
	migration *MigrationService,
	cfg *config.Config,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		store:      store,
		blobStore:  blobStore,
		sender:     sender,
		summarizer: summarizer,
		migration:  migration,
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
	}
}

// Deliver 处理一个新写入的 blob key。
func (s *DeliveryService) Deliver(ctx context.Context, blobKey string) error {
	started := time.Now()
	outcome, err := s.deliver(ctx, blobKey)
	s.metrics.RecordDeliveryOutcome(outcome, time.Since(started))
	return err
}

func (s *DeliveryService) deliver(ctx context.Context, blobKey string) (string, error) {
	record, err := s.lookupRecord(ctx, blobKey)
	if err != nil {
		s.metrics.RecordError("lookup", "delivery")
		return "failed", err
	}
	if record == nil {
		s.log.Warn("no record for blob, skipping", zap.String("key", blobKey))
		return "skipped_orphan", nil
	}

	if record.State == domain.RecordStateProcessed {
		s.log.Debug("record already processed, skipping",
			zap.String("message_id", record.MessageID))
		return "skipped_processed", nil
	}

	migrated, err := s.migration.EnsureRecordMigrated(record)
	if err != nil {
		s.metrics.RecordError("migration", "delivery")
		return "failed", fmt.Errorf("migrate record %s: %w", record.MessageID, err)
	}
	if !migrated {
		s.log.Info("record bound to previous bot, delivery queued",
			zap.String("message_id", record.MessageID),
			zap.String("bot_id", record.BotID))
		return "skipped_migration", ErrMigrationPending
	}

	raw, err := s.blobStore.Get(ctx, record.BlobKey)
	if err != nil {
		s.metrics.RecordError("blob", "delivery")
		return "failed", fmt.Errorf("load blob %s: %w", record.BlobKey, err)
	}

	content := extract.Parse(raw)
	body := extract.CapBody(content.Body, s.cfg.Mail.MaxBodyChars)

	summaryText := s.summarize(ctx, record.MessageID, content.Subject, body)

	// 摘要、主题和发件人回填记录，便于排查和 API 查询
	record.Subject = content.Subject
	record.Sender = content.Sender

	chatID, err := strconv.ParseInt(record.OwnerRef, 10, 64)
	if err != nil {
		s.metrics.RecordError("owner_ref", "delivery")
		return "failed", fmt.Errorf("invalid owner ref %q: %w", record.OwnerRef, err)
	}

	text := s.composeMessage(record, content, summaryText)
	req := telegram.SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
		ReplyMarkup: &telegram.InlineKeyboardMarkup{
			InlineKeyboard: [][]telegram.InlineKeyboardButton{
				{{Text: disableButtonLabel, CallbackData: "disable:" + record.AliasID}},
			},
		},
	}

	if err := s.sendWithRetry(ctx, req, record.MessageID); err != nil {
		now := time.Now().UTC()
		bestEffort(s.log, "mark record failed", func() error {
			return s.store.MarkRecordFailed(record.MessageID, now)
		}, zap.String("message_id", record.MessageID))
		s.metrics.RecordError("send", "delivery")
		return "failed", err
	}

	now := time.Now().UTC()
	record.Summary = summaryText
	bestEffort(s.log, "persist extracted headers", func() error {
		return s.store.UpdateRecord(record)
	}, zap.String("message_id", record.MessageID))

	if err := s.store.MarkRecordProcessed(record.MessageID, summaryText, now); err != nil {
		s.metrics.RecordError("storage", "delivery")
		return "failed", fmt.Errorf("mark processed %s: %w", record.MessageID, err)
	}

	s.log.Info("message delivered",
		zap.String("message_id", record.MessageID),
		zap.String("alias_id", record.AliasID),
		zap.String("owner_ref", record.OwnerRef))
	return "delivered", nil
}

// lookupRecord 由 blob key 反推消息标识并查记录。
// 先按带后缀剥离的标准推导查，查不到再退回旧版
// 首个连字符截断的推导。两者都查不到时短暂重试，
// 容忍记录晚于 blob 落库的窗口。
func (s *DeliveryService) lookupRecord(ctx context.Context, blobKey string) (*domain.MessageRecord, error) {
	primary := blob.MessageIDFromKey(blobKey)
	legacy := blob.LegacyMessageIDFromKey(blobKey)

	for attempt := 0; attempt < recordLookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(recordLookupDelay):
			}
		}

		for _, id := range []string{primary, legacy} {
			if id == "" {
				continue
			}
			record, err := s.store.GetRecord(id)
			if err == nil {
				return record, nil
			}
			if !errors.Is(err, storage.ErrRecordNotFound) {
				return nil, fmt.Errorf("lookup record %s: %w", id, err)
			}
			if id == legacy {
				break // 两种推导一致时不用查第二次
			}
		}
	}
	return nil, nil
}

// summarize 生成摘要，失败时退回正文截取。
// 短正文不值得一次模型调用，直接原样使用。
func (s *DeliveryService) summarize(ctx context.Context, messageID, subject, body string) string {
	excerptChars := s.cfg.Mail.ExcerptChars
	if excerptChars <= 0 {
		excerptChars = 1000
	}

	if len([]rune(body)) <= excerptChars {
		return body
	}
	if s.summarizer == nil {
		s.metrics.SummaryFallbacks.Inc()
		return excerpt(body, excerptChars)
	}

	summaryText, err := s.summarizer.Summarize(ctx, subject, body)
	if err != nil {
		s.log.Warn("summarizer failed, using excerpt",
			zap.String("message_id", messageID),
			zap.Error(err))
		s.metrics.SummaryFallbacks.Inc()
		return excerpt(body, excerptChars)
	}

	s.metrics.SummariesGenerated.Inc()
	return summaryText
}

// excerpt 截取正文开头若干字符作为摘要替代。
func excerpt(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// composeMessage 组装推送文本并压进 Bot API 的长度上限。
// 超长时优先截摘要，再截主题，下载链接和按钮始终保留。
func (s *DeliveryService) composeMessage(record *domain.MessageRecord, content *extract.Content, summaryText string) string {
	sender := content.Sender
	if sender == "" {
		sender = "(unknown sender)"
	}

	link := ""
	if s.cfg.Retrieval.PublicBaseURL != "" {
		link = fmt.Sprintf("\n\n[📥 Download full email](%s/email/%s/%s)",
			strings.TrimRight(s.cfg.Retrieval.PublicBaseURL, "/"),
			record.AliasID, record.MessageID)
	}

	build := func(subject, summaryText string) string {
		return fmt.Sprintf("📧 *New email to* `%s`\n*From:* %s\n*Subject:* %s\n\n%s%s",
			record.RecipientAddress, sender, subject, summaryText, link)
	}

	text := build(content.Subject, summaryText)
	if len([]rune(text)) <= telegram.MaxMessageLength {
		return text
	}

	// 先压缩摘要
	overflow := len([]rune(text)) - telegram.MaxMessageLength
	summaryRunes := []rune(summaryText)
	if len(summaryRunes) > overflow {
		text = build(content.Subject, strings.TrimSpace(string(summaryRunes[:len(summaryRunes)-overflow-3]))+"...")
		if len([]rune(text)) <= telegram.MaxMessageLength {
			return text
		}
	}

	// 摘要压到底仍超长，再压主题
	text = build(content.Subject, "")
	if len([]rune(text)) > telegram.MaxMessageLength {
		overflow = len([]rune(text)) - telegram.MaxMessageLength
		subjectRunes := []rune(content.Subject)
		if len(subjectRunes) > overflow+3 {
			text = build(strings.TrimSpace(string(subjectRunes[:len(subjectRunes)-overflow-3]))+"...", "")
		}
	}

	runes := []rune(text)
	if len(runes) > telegram.MaxMessageLength {
		text = string(runes[:telegram.MaxMessageLength])
	}
	return text
}

// sendWithRetry 按配置的次数重试发送，退避 1s、2s、4s 递增。
func (s *DeliveryService) sendWithRetry(ctx context.Context, req telegram.SendMessageRequest, messageID string) error {
	tries := s.cfg.Mail.DeliveryTries
	if tries <= 0 {
		tries = 3
	}

	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		if attempt > 0 {
			backoff := time.Second << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		s.metrics.SendAttempts.Inc()
		lastErr = s.sender.SendMessage(ctx, req)
		if lastErr == nil {
			return nil
		}

		s.log.Warn("telegram send failed",
			zap.String("message_id", messageID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("send after %d attempts: %w", tries, lastErr)
}
