package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mailecho/backend/internal/blob"
)

// Store 文件系统 blob 存储实现。
// 存储键直接映射为 basePath 下的相对路径；元数据以 sidecar JSON 保存。
type Store struct {
	basePath string
}

// NewStore 创建文件系统存储实例，确保根目录存在。
func NewStore(basePath string) (*Store, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: abs}, nil
}

// BasePath 返回存储根目录，供写入事件监听使用。
func (s *Store) BasePath() string {
	return s.basePath
}

// Put 保存 blob 与元数据。元数据写入失败不影响主体写入的结果。
func (s *Store) Put(_ context.Context, key string, data []byte, meta blob.Metadata) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	if len(meta) > 0 {
		if encoded, err := json.Marshal(meta); err == nil {
			// sidecar 先于主体写入，保证监听方看到 .eml 时元数据已就绪
			_ = os.WriteFile(path+".meta.json", encoded, 0644)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// Get 读取 blob 内容。
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// resolve 把存储键映射到文件路径，并拒绝逃出根目录的键。
func (s *Store) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key must not be empty")
	}
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("blob key escapes storage root: %s", key)
	}
	return path, nil
}
