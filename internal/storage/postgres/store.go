package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage"
)

// Store 基于 GORM 的数据库存储实现，支持 PostgreSQL 与 MySQL。
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Owner{},
		&domain.Alias{},
		&domain.MessageRecord{},
	)
}

// SaveAlias 保存别名（upsert）。
func (s *Store) SaveAlias(alias *domain.Alias) error {
	return s.db.Save(alias).Error
}

// GetAlias 根据 ID 获取别名。
func (s *Store) GetAlias(aliasID string) (*domain.Alias, error) {
	var alias domain.Alias
	err := s.db.First(&alias, "alias_id = ?", aliasID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAliasNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// ListAliasesByOwner 返回指定 Owner 的全部别名，包括已停用的。
func (s *Store) ListAliasesByOwner(ownerRef string) ([]*domain.Alias, error) {
	var aliases []*domain.Alias
	err := s.db.Where("owner_ref = ?", ownerRef).Order("created_at").Find(&aliases).Error
	if err != nil {
		return nil, err
	}
	return aliases, nil
}

// UpdateAlias 更新别名。
func (s *Store) UpdateAlias(alias *domain.Alias) error {
	result := s.db.Model(&domain.Alias{}).Where("alias_id = ?", alias.AliasID).Updates(alias)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAliasNotFound
	}
	return nil
}

// UpdateAliasLastMessage 更新别名的最近收信时间。
func (s *Store) UpdateAliasLastMessage(aliasID string, at time.Time) error {
	result := s.db.Model(&domain.Alias{}).
		Where("alias_id = ?", aliasID).
		Update("last_message_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAliasNotFound
	}
	return nil
}

// SaveOwner 保存 Owner（upsert）。
func (s *Store) SaveOwner(owner *domain.Owner) error {
	return s.db.Save(owner).Error
}

// GetOwner 根据 OwnerRef 获取 Owner。
func (s *Store) GetOwner(ownerRef string) (*domain.Owner, error) {
	var owner domain.Owner
	err := s.db.First(&owner, "owner_ref = ?", ownerRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

// SaveRecord 保存邮件记录。
func (s *Store) SaveRecord(record *domain.MessageRecord) error {
	return s.db.Save(record).Error
}

// GetRecord 根据 MessageID 获取邮件记录。
func (s *Store) GetRecord(messageID string) (*domain.MessageRecord, error) {
	var record domain.MessageRecord
	err := s.db.First(&record, "message_id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateRecord 更新邮件记录。
// Select("*") 使零值字段（如清掉的 needs_migration）也参与更新。
func (s *Store) UpdateRecord(record *domain.MessageRecord) error {
	result := s.db.Model(&domain.MessageRecord{}).
		Where("message_id = ?", record.MessageID).
		Select("*").
		Updates(record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}

// MarkRecordProcessed 将记录标记为 PROCESSED 并写入摘要。
// WHERE state <> PROCESSED 的条件更新保证终态不被改写。
func (s *Store) MarkRecordProcessed(messageID, summary string, at time.Time) error {
	result := s.db.Model(&domain.MessageRecord{}).
		Where("message_id = ? AND state <> ?", messageID, domain.RecordStateProcessed).
		Updates(map[string]interface{}{
			"state":        domain.RecordStateProcessed,
			"summary":      summary,
			"processed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 记录不存在，或已经是 PROCESSED；后者对调用方而言是幂等成功
		if _, err := s.GetRecord(messageID); err != nil {
			return err
		}
	}
	return nil
}

// MarkRecordFailed 将记录标记为 FAILED。已 PROCESSED 的记录不受影响。
func (s *Store) MarkRecordFailed(messageID string, at time.Time) error {
	result := s.db.Model(&domain.MessageRecord{}).
		Where("message_id = ? AND state <> ?", messageID, domain.RecordStateProcessed).
		Updates(map[string]interface{}{
			"state":     domain.RecordStateFailed,
			"failed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetRecord(messageID); err != nil {
			return err
		}
	}
	return nil
}

// ListPendingRecordsByAlias 返回指定别名下所有 PENDING 状态的记录。
func (s *Store) ListPendingRecordsByAlias(aliasID string) ([]*domain.MessageRecord, error) {
	var records []*domain.MessageRecord
	err := s.db.
		Where("alias_id = ? AND state = ?", aliasID, domain.RecordStatePending).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteExpiredRecords 删除保留期已过的记录，返回删除数量。
func (s *Store) DeleteExpiredRecords(now time.Time) (int, error) {
	result := s.db.Where("expires_at < ?", now).Delete(&domain.MessageRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
