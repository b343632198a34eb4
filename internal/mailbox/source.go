package mailbox

import "context"

// RawMessage 是从邮件源取回的一封未处理邮件。
// UID 是传输层标识，仅在同一个源内唯一，
// 用于在持久化成功后向源确认该邮件已被接管。
type RawMessage struct {
	UID string
	Raw []byte
}

// Source 抽象一个入站邮件来源。
// FetchUnread 返回当前未处理的邮件但不得改变它们在源中的状态；
// 只有 Acknowledge 被调用后，同一封邮件才允许从后续
// FetchUnread 结果中消失。持久化失败时不确认，
// 下一轮轮询会重新取到同一封邮件。
type Source interface {
	Name() string
	FetchUnread(ctx context.Context) ([]RawMessage, error)
	Acknowledge(ctx context.Context, uid string) error
}
