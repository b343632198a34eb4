// Package blob 负责原始邮件的持久化：键构造与反解、文件系统存储、
// 签名下载链接，以及触发投递的存储写入监听。
package blob

import "context"

// Metadata 随 blob 一起保存的附加属性。
type Metadata map[string]string

// Store 定义原始邮件 blob 的存取能力。
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta Metadata) error
	Get(ctx context.Context, key string) ([]byte, error)
}
