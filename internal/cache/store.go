package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// 会话键
const (
	KeyLastAnalysis = "imagitext:last_analysis"
	KeyLastImage    = "imagitext:last_image"
)

const (
	backendRedis  = "redis"
	backendMemory = "memory"

	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("cache store is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Store 键值存储。写入的值在被覆盖、删除或过期前一直可读。
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Observer 接收存储操作结果，metrics.Collector 实现了该接口
type Observer interface {
	ObserveStore(backend, op, outcome string)
}

func observe(o Observer, backend, op, outcome string) {
	if o != nil {
		o.ObserveStore(backend, op, outcome)
	}
}

// =============================================================================
// 🧠 进程内存储
// =============================================================================

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore 进程内 Store，未配置 Redis 时使用
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
	observer Observer
	closed   bool
}

// NewMemoryStore 创建进程内存储，ttl 为 0 表示不过期
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetObserver 设置命中/未命中观察者
func (s *MemoryStore) SetObserver(o Observer) {
	s.observer = o
}

// GetJSON 读取并反序列化
func (s *MemoryStore) GetJSON(_ context.Context, key string, dest any) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || (!e.expires.IsZero() && !s.now().Before(e.expires)) {
		observe(s.observer, backendMemory, "get", outcomeMiss)
		return ErrCacheMiss
	}
	observe(s.observer, backendMemory, "get", outcomeHit)

	if err := json.Unmarshal(e.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON 序列化并写入
func (s *MemoryStore) SetJSON(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	e := memoryEntry{data: data}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.entries[key] = e
	observe(s.observer, backendMemory, "set", outcomeOK)
	return nil
}

// Delete 删除键
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Ping 始终可用，关闭后返回 ErrClosed
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close 清空并关闭
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
