package domain

import "time"

// RecordState 邮件记录的投递状态。
type RecordState string

const (
	// RecordStatePending 已入库、等待摘要和通知
	RecordStatePending RecordState = "PENDING"
	// RecordStateProcessed 通知已送达（终态）
	RecordStateProcessed RecordState = "PROCESSED"
	// RecordStateFailed 通知发送失败，等待外部重驱
	RecordStateFailed RecordState = "FAILED"
)

// RecordRetention 邮件记录的保留期，到期后由后台任务回收，
// 与投递状态无关。
const RecordRetention = 14 * 24 * time.Hour

// MessageRecord 表示一封已摄取邮件的持久化元数据。
//
// MessageID 由邮件内容确定性推导（见 identity 包），同一封物理邮件
// 重复摄取时命中主键即视为重复，这是幂等摄取的核心保证。
// OwnerRef 与 bot 绑定在摄取时从 Alias 冗余拷贝，使得摄取之后的
// 所有者绑定变更不会影响已入库的邮件；迁移组件负责调和这份拷贝。
type MessageRecord struct {
	MessageID        string      `json:"messageId" gorm:"primaryKey;type:varchar(100)"`
	AliasID          string      `json:"aliasId" gorm:"type:varchar(36);index;not null"`
	OwnerRef         string      `json:"ownerRef" gorm:"type:varchar(64);not null"` // 摄取时刻的投递端点
	BotID            string      `json:"botId" gorm:"type:varchar(64)"`
	BotUsername      string      `json:"botUsername" gorm:"type:varchar(64)"`
	NeedsMigration   bool        `json:"needsMigration"` // 摄取时 bot 绑定已过期
	RecipientAddress string      `json:"recipientAddress" gorm:"type:varchar(255)"`
	Sender           string      `json:"sender" gorm:"type:varchar(200)"`
	Subject          string      `json:"subject" gorm:"type:varchar(500)"`
	BlobKey          string      `json:"blobKey" gorm:"type:varchar(512)"` // 原始邮件在 blob 存储中的键
	ReceivedAt       time.Time   `json:"receivedAt"`
	State            RecordState `json:"state" gorm:"type:varchar(16);index;not null"`
	Summary          string      `json:"summary,omitempty" gorm:"type:text"`
	ProcessedAt      *time.Time  `json:"processedAt,omitempty"`
	FailedAt         *time.Time  `json:"failedAt,omitempty"`
	MigratedAt       *time.Time  `json:"migratedAt,omitempty"`
	ExpiresAt        time.Time   `json:"expiresAt" gorm:"index"` // ReceivedAt + RecordRetention
	CreatedAt        time.Time   `json:"createdAt"`
}
