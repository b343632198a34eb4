package summary

import "context"

// Summarizer 为一封邮件生成简短摘要。
// 实现失败时返回错误，调用方退回正文截取，
// 摘要永远不是投递链路的硬依赖。
type Summarizer interface {
	Summarize(ctx context.Context, subject, body string) (string, error)
}
