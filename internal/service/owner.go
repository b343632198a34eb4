package service

import (
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/telegram"
)

// OwnerService 维护 Telegram 用户档案。
type OwnerService struct {
	store storage.Store
	log   *zap.Logger
}

// NewOwnerService 创建属主业务服务。
func NewOwnerService(store storage.Store, log *zap.Logger) *OwnerService {
	return &OwnerService{store: store, log: log}
}

// EnsureOwner 按 Telegram 用户信息插入或刷新属主档案，
// 返回当前档案。每次 /start 和消息交互都会经过这里，
// 顺带记录最近活跃时间和当前服务它的机器人。
func (s *OwnerService) EnsureOwner(ownerRef string, user *telegram.User, bot *telegram.User) (*domain.Owner, error) {
	now := time.Now().UTC()

	owner, err := s.store.GetOwner(ownerRef)
	if err != nil {
		if !errors.Is(err, storage.ErrOwnerNotFound) {
			return nil, err
		}
		owner = &domain.Owner{
			OwnerRef:  ownerRef,
			Status:    domain.OwnerStatusActive,
			CreatedAt: now,
		}
	}

	if user != nil {
		owner.Username = user.Username
		owner.FirstName = user.FirstName
		owner.LastName = user.LastName
		owner.Locale = user.LanguageCode
	}
	if bot != nil {
		owner.BotID = strconv.FormatInt(bot.ID, 10)
		owner.BotUsername = bot.Username
	}
	owner.LastActiveAt = now

	if err := s.store.SaveOwner(owner); err != nil {
		return nil, err
	}

	s.log.Debug("owner profile refreshed",
		zap.String("owner_ref", owner.OwnerRef),
		zap.String("username", owner.Username))
	return owner, nil
}

// GetOwner 按引用查属主。
func (s *OwnerService) GetOwner(ownerRef string) (*domain.Owner, error) {
	return s.store.GetOwner(ownerRef)
}
