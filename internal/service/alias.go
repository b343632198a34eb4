package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/routing"
	"mailecho/backend/internal/storage"
)

// aliasCharset 别名标识的字符集，小写字母加数字。
const aliasCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// provisionAttempts 生成别名时允许的撞号重试次数。
// 8 位 36 进制标识的碰撞概率极低，两次都撞上
// 更可能意味着存储层出了问题，直接报错比无限重试安全。
const provisionAttempts = 2

// AliasService 封装别名的开通、查询和停用。
type AliasService struct {
	store       storage.Store
	provisioner routing.Provisioner
	cfg         *config.Config
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewAliasService 创建别名业务服务。
func NewAliasService(store storage.Store, provisioner routing.Provisioner, cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) *AliasService {
	return &AliasService{
		store:       store,
		provisioner: provisioner,
		cfg:         cfg,
		metrics:     metrics,
		log:         log,
	}
}

// randomAliasID 生成一个随机别名标识。
func (s *AliasService) randomAliasID() (string, error) {
	length := s.cfg.Mail.AliasLength
	if length <= 0 {
		length = 8
	}

	id := make([]byte, length)
	max := big.NewInt(int64(len(aliasCharset)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate alias id: %w", err)
		}
		id[i] = aliasCharset[n.Int64()]
	}
	return string(id), nil
}

// Provision 为属主开通一个新别名。
// 先向路由层开通投递，成功后才落库；落库失败时
// 尽力回收刚创建的路由，避免留下无主路由规则。
func (s *AliasService) Provision(ctx context.Context, ownerRef, botID, botUsername string) (*domain.Alias, error) {
	if _, err := s.store.GetOwner(ownerRef); err != nil {
		return nil, fmt.Errorf("lookup owner %s: %w", ownerRef, err)
	}

	var aliasID string
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		candidate, err := s.randomAliasID()
		if err != nil {
			return nil, err
		}

		_, err = s.store.GetAlias(candidate)
		if errors.Is(err, storage.ErrAliasNotFound) {
			aliasID = candidate
			break
		}
		if err != nil {
			return nil, fmt.Errorf("check alias %s: %w", candidate, err)
		}
		s.log.Warn("alias id collision", zap.String("alias_id", candidate), zap.Int("attempt", attempt+1))
	}
	if aliasID == "" {
		return nil, ErrProvisioningExhausted
	}

	address := aliasID + "@" + s.cfg.Mail.Domain

	routeRef, err := s.provisioner.CreateRoute(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("create route for %s: %w", address, err)
	}

	alias := &domain.Alias{
		AliasID:     aliasID,
		OwnerRef:    ownerRef,
		Address:     address,
		Status:      domain.AliasStatusActive,
		RoutingRef:  routeRef,
		BotID:       botID,
		BotUsername: botUsername,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.SaveAlias(alias); err != nil {
		bestEffort(s.log, "undo route after persist failure", func() error {
			return s.provisioner.DisableRoute(ctx, routeRef)
		}, zap.String("alias_id", aliasID))
		return nil, fmt.Errorf("persist alias %s: %w", aliasID, err)
	}

	s.metrics.AliasesProvisioned.Inc()
	s.log.Info("alias provisioned",
		zap.String("alias_id", aliasID),
		zap.String("address", address),
		zap.String("owner_ref", ownerRef))
	return alias, nil
}

// List 返回属主名下的全部别名。
func (s *AliasService) List(ownerRef string) ([]*domain.Alias, error) {
	return s.store.ListAliasesByOwner(ownerRef)
}

// Disable 停用属主名下的一个别名。
// 重复停用是幂等成功；别名属于别人时返回 ErrNotOwner。
// 路由层回收是尽力而为：记录层一停用，入站管线
// 就已经开始丢弃这个别名的邮件了。
func (s *AliasService) Disable(ctx context.Context, aliasID, ownerRef string) (*domain.Alias, error) {
	alias, err := s.store.GetAlias(aliasID)
	if err != nil {
		return nil, err
	}
	if alias.OwnerRef != ownerRef {
		return nil, ErrNotOwner
	}
	if alias.Status == domain.AliasStatusDisabled {
		return alias, nil
	}

	now := time.Now().UTC()
	alias.Status = domain.AliasStatusDisabled
	alias.DisabledAt = &now
	if err := s.store.UpdateAlias(alias); err != nil {
		return nil, fmt.Errorf("disable alias %s: %w", aliasID, err)
	}

	if alias.RoutingRef != "" {
		bestEffort(s.log, "disable route", func() error {
			return s.provisioner.DisableRoute(ctx, alias.RoutingRef)
		}, zap.String("alias_id", aliasID))
	}

	s.metrics.AliasesDisabled.Inc()
	s.log.Info("alias disabled",
		zap.String("alias_id", aliasID),
		zap.String("owner_ref", ownerRef))
	return alias, nil
}
