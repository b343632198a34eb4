package memory

import (
	"sync"
	"time"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage"
)

// Store 使用内存保存别名、Owner 与邮件记录，主要用于开发验证和测试。
type Store struct {
	mu      sync.RWMutex
	aliases map[string]*domain.Alias         // aliasID -> alias
	byOwner map[string]map[string]struct{}   // ownerRef -> aliasID 集合
	owners  map[string]*domain.Owner         // ownerRef -> owner
	records map[string]*domain.MessageRecord // messageID -> record
	byAlias map[string]map[string]struct{}   // aliasID -> messageID 集合
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		aliases: make(map[string]*domain.Alias),
		byOwner: make(map[string]map[string]struct{}),
		owners:  make(map[string]*domain.Owner),
		records: make(map[string]*domain.MessageRecord),
		byAlias: make(map[string]map[string]struct{}),
	}
}

// SaveAlias 保存别名（存在即覆盖）。
func (s *Store) SaveAlias(alias *domain.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *alias
	s.aliases[alias.AliasID] = &cp
	if s.byOwner[alias.OwnerRef] == nil {
		s.byOwner[alias.OwnerRef] = make(map[string]struct{})
	}
	s.byOwner[alias.OwnerRef][alias.AliasID] = struct{}{}
	return nil
}

// GetAlias 根据 ID 获取别名。
func (s *Store) GetAlias(aliasID string) (*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alias, ok := s.aliases[aliasID]
	if !ok {
		return nil, storage.ErrAliasNotFound
	}
	cp := *alias
	return &cp, nil
}

// ListAliasesByOwner 返回指定 Owner 的全部别名，包括已停用的。
func (s *Store) ListAliasesByOwner(ownerRef string) ([]*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Alias, 0, len(s.byOwner[ownerRef]))
	for id := range s.byOwner[ownerRef] {
		if alias, ok := s.aliases[id]; ok {
			cp := *alias
			result = append(result, &cp)
		}
	}
	return result, nil
}

// UpdateAlias 更新别名。
func (s *Store) UpdateAlias(alias *domain.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.aliases[alias.AliasID]; !ok {
		return storage.ErrAliasNotFound
	}
	cp := *alias
	s.aliases[alias.AliasID] = &cp
	return nil
}

// UpdateAliasLastMessage 更新别名的最近收信时间。
func (s *Store) UpdateAliasLastMessage(aliasID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias, ok := s.aliases[aliasID]
	if !ok {
		return storage.ErrAliasNotFound
	}
	alias.LastMessageAt = &at
	return nil
}

// SaveOwner 保存 Owner（upsert 语义）。
func (s *Store) SaveOwner(owner *domain.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *owner
	s.owners[owner.OwnerRef] = &cp
	return nil
}

// GetOwner 根据 OwnerRef 获取 Owner。
func (s *Store) GetOwner(ownerRef string) (*domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[ownerRef]
	if !ok {
		return nil, storage.ErrOwnerNotFound
	}
	cp := *owner
	return &cp, nil
}

// SaveRecord 保存邮件记录。
func (s *Store) SaveRecord(record *domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records[record.MessageID] = &cp
	if s.byAlias[record.AliasID] == nil {
		s.byAlias[record.AliasID] = make(map[string]struct{})
	}
	s.byAlias[record.AliasID][record.MessageID] = struct{}{}
	return nil
}

// GetRecord 根据 MessageID 获取邮件记录。
func (s *Store) GetRecord(messageID string) (*domain.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[messageID]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

// UpdateRecord 更新邮件记录。
func (s *Store) UpdateRecord(record *domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.MessageID]; !ok {
		return storage.ErrRecordNotFound
	}
	cp := *record
	s.records[record.MessageID] = &cp
	return nil
}

// MarkRecordProcessed 将记录标记为 PROCESSED 并写入摘要。
// 已经 PROCESSED 的记录不会被改写。
func (s *Store) MarkRecordProcessed(messageID, summary string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[messageID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	if record.State == domain.RecordStateProcessed {
		return nil
	}
	record.State = domain.RecordStateProcessed
	record.Summary = summary
	record.ProcessedAt = &at
	return nil
}

// MarkRecordFailed 将记录标记为 FAILED。已经 PROCESSED 的记录不会被改写。
func (s *Store) MarkRecordFailed(messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[messageID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	if record.State == domain.RecordStateProcessed {
		return nil
	}
	record.State = domain.RecordStateFailed
	record.FailedAt = &at
	return nil
}

// ListPendingRecordsByAlias 返回指定别名下所有 PENDING 状态的记录。
func (s *Store) ListPendingRecordsByAlias(aliasID string) ([]*domain.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.MessageRecord, 0)
	for id := range s.byAlias[aliasID] {
		record, ok := s.records[id]
		if !ok || record.State != domain.RecordStatePending {
			continue
		}
		cp := *record
		result = append(result, &cp)
	}
	return result, nil
}

// DeleteExpiredRecords 删除保留期已过的记录，返回删除数量。
func (s *Store) DeleteExpiredRecords(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, record := range s.records {
		if record.ExpiresAt.Before(now) {
			delete(s.records, id)
			if set, ok := s.byAlias[record.AliasID]; ok {
				delete(set, id)
			}
			count++
		}
	}
	return count, nil
}

// Close 实现 storage.Store。
func (s *Store) Close() error { return nil }

// Health 实现 storage.Store。
func (s *Store) Health() error { return nil }
