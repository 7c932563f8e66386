package storage

import (
	"context"
	"sync"

	xerrors "OpenBoBS/internal/errors"
)

// ErrNotFound 表示键不存在，调用方应使用自己的默认值。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "key not found")

// Store 是持久化自学习状态与历史记录的键值存储。值为 JSON 文本。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// MemoryStore 把数据保存在进程内，主要用于测试与一次性会话。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set 实现 Store 接口。
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存储键不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
