package domain

import "time"

// AliasStatus 别名生命周期状态。
type AliasStatus string

const (
	// AliasStatusActive 别名可接收邮件
	AliasStatusActive AliasStatus = "ACTIVE"
	// AliasStatusDisabled 别名已停用（终态，不可重新激活）
	AliasStatusDisabled AliasStatus = "DISABLED"
)

// Alias 表示一个一次性收件地址。
// 每个别名归属于唯一的 Owner；除 Status、LastMessageAt 与所有者绑定
// （迁移时的 BotID/BotUsername）外，创建后的字段均不可变。
// 别名从不物理删除，停用即为终态。
type Alias struct {
	AliasID       string      `json:"aliasId" gorm:"primaryKey;type:varchar(36)"`       // 短随机标识，同时是邮箱 local-part
	OwnerRef      string      `json:"ownerRef" gorm:"type:varchar(64);index;not null"`  // 所属 Owner（聊天 ID）
	Address       string      `json:"address" gorm:"type:varchar(255);index"`           // 完整收件地址，如 abcd1234@example.com
	Status        AliasStatus `json:"status" gorm:"type:varchar(16);not null"`          // ACTIVE / DISABLED
	RoutingRef    string      `json:"routingRef,omitempty" gorm:"type:varchar(128)"`    // 外部路由规则句柄，可为空
	BotID         string      `json:"botId" gorm:"type:varchar(64)"`                    // 当前绑定的 bot
	BotUsername   string      `json:"botUsername" gorm:"type:varchar(64)"`
	CreatedAt     time.Time   `json:"createdAt"`
	DisabledAt    *time.Time  `json:"disabledAt,omitempty"`
	LastMessageAt *time.Time  `json:"lastMessageAt,omitempty"` // 最近一次成功收信时间
	MigratedAt    *time.Time  `json:"migratedAt,omitempty"`    // 最近一次 bot 迁移时间
}

// IsActive 判断别名是否仍可接收邮件。
func (a *Alias) IsActive() bool {
	return a.Status == AliasStatusActive
}
