package domain

import "time"

// Owner 表示接收通知的聊天端用户。
// 以 Telegram chat ID 作为稳定主键，首次交互时惰性创建，只更新不删除。
type Owner struct {
	OwnerRef     string    `json:"ownerRef" gorm:"primaryKey;type:varchar(64)"` // Telegram chat ID
	Username     string    `json:"username,omitempty" gorm:"type:varchar(64)"`
	FirstName    string    `json:"firstName,omitempty" gorm:"type:varchar(128)"`
	LastName     string    `json:"lastName,omitempty" gorm:"type:varchar(128)"`
	Locale       string    `json:"locale,omitempty" gorm:"type:varchar(16)"`
	BotID        string    `json:"botId" gorm:"type:varchar(64)"` // 当前可达的 bot
	BotUsername  string    `json:"botUsername" gorm:"type:varchar(64)"`
	Status       string    `json:"status" gorm:"type:varchar(16)"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// OwnerStatusActive Owner 的默认状态，目前没有停用流程。
const OwnerStatusActive = "ACTIVE"
