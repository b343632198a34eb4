package storage

import (
	"errors"
	"time"

	"mailecho/backend/internal/domain"
)

var (
	// ErrAliasNotFound 别名未找到错误
	ErrAliasNotFound = errors.New("alias not found")
	// ErrOwnerNotFound Owner 未找到错误
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrRecordNotFound 邮件记录未找到错误
	ErrRecordNotFound = errors.New("message record not found")
)

// AliasRepository 定义别名目录的数据存取操作。
type AliasRepository interface {
	SaveAlias(alias *domain.Alias) error
	GetAlias(aliasID string) (*domain.Alias, error)
	ListAliasesByOwner(ownerRef string) ([]*domain.Alias, error)
	UpdateAlias(alias *domain.Alias) error
	// UpdateAliasLastMessage 只更新 last_message_at，摄取成功后调用。
	UpdateAliasLastMessage(aliasID string, at time.Time) error
}

// OwnerRepository 定义 Owner 数据存取操作。
type OwnerRepository interface {
	SaveOwner(owner *domain.Owner) error
	GetOwner(ownerRef string) (*domain.Owner, error)
}

// RecordRepository 定义邮件记录的数据存取操作。
//
// MarkRecordProcessed / MarkRecordFailed 均为条件更新：记录一旦进入
// PROCESSED 即不再被改写，这是投递状态机唯一的并发控制原语。
type RecordRepository interface {
	SaveRecord(record *domain.MessageRecord) error
	GetRecord(messageID string) (*domain.MessageRecord, error)
	UpdateRecord(record *domain.MessageRecord) error
	MarkRecordProcessed(messageID, summary string, at time.Time) error
	MarkRecordFailed(messageID string, at time.Time) error
	ListPendingRecordsByAlias(aliasID string) ([]*domain.MessageRecord, error)
	// DeleteExpiredRecords 删除保留期已过的记录，返回删除数量。
	DeleteExpiredRecords(now time.Time) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AliasRepository
	OwnerRepository
	RecordRepository

	Close() error
	Health() error
}
