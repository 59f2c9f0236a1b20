// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"zerotrace-go/internal/model"
	"zerotrace-go/pkg/log"
)

// SessionStore 定义了会话存储的操作接口。
// 同一会话的历史追加必须串行化：一次交互的两条消息（用户与模型）
// 都要落入历史且按请求顺序排列，不允许被并发请求覆盖。
type SessionStore interface {
	// GetOrCreate 返回会话 ID；id 为空时生成新会话。调用即视为一次活跃触达。
	GetOrCreate(ctx context.Context, id string) (string, error)
	// History 返回会话的有序消息历史，会话不存在时返回空切片。
	History(ctx context.Context, id string) ([]model.Message, error)
	// AppendTurns 按顺序向会话追加若干条消息。
	AppendTurns(ctx context.Context, id string, msgs ...model.Message) error
	// Has 报告会话当前是否存在于存储中。
	Has(ctx context.Context, id string) (bool, error)
	// Count 返回存储中的会话数量。
	Count(ctx context.Context) (int, error)
}

// sessionRecord 是内存存储中的单个会话，mu 串行化对该会话历史的修改。
type sessionRecord struct {
	mu      sync.Mutex
	session model.ChatSession
}

// memorySessionStore 是进程内的会话存储，配合周期清扫实现空闲过期。
type memorySessionStore struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionRecord
	timeout      time.Duration
	historyLimit int
}

// NewMemorySessionStore 创建一个内存会话存储。
// timeout 是空闲过期时长，historyLimit 是单会话保留的最大消息数。
func NewMemorySessionStore(timeout time.Duration, historyLimit int) *memorySessionStore {
	return &memorySessionStore{
		sessions:     make(map[string]*sessionRecord),
		timeout:      timeout,
		historyLimit: historyLimit,
	}
}

func (s *memorySessionStore) GetOrCreate(_ context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()

	s.mu.Lock()
	rec, ok := s.sessions[id]
	if !ok {
		rec = &sessionRecord{session: model.ChatSession{
			ID:        id,
			CreatedAt: now,
		}}
		s.sessions[id] = rec
	}
	s.mu.Unlock()

	rec.mu.Lock()
	rec.session.LastActivityAt = now
	rec.mu.Unlock()
	return id, nil
}

func (s *memorySessionStore) History(_ context.Context, id string) ([]model.Message, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return []model.Message{}, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]model.Message, len(rec.session.Messages))
	copy(out, rec.session.Messages)
	return out, nil
}

func (s *memorySessionStore) AppendTurns(ctx context.Context, id string, msgs ...model.Message) error {
	if _, err := s.GetOrCreate(ctx, id); err != nil {
		return err
	}
	s.mu.RLock()
	rec := s.sessions[id]
	s.mu.RUnlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.session.Messages = append(rec.session.Messages, msgs...)
	// 保留最近 historyLimit 条
	if s.historyLimit > 0 && len(rec.session.Messages) > s.historyLimit {
		rec.session.Messages = rec.session.Messages[len(rec.session.Messages)-s.historyLimit:]
	}
	rec.session.LastActivityAt = time.Now()
	return nil
}

func (s *memorySessionStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok, nil
}

func (s *memorySessionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Sweep 执行一次过期清扫，返回被驱逐的会话数。
func (s *memorySessionStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, rec := range s.sessions {
		rec.mu.Lock()
		idle := now.Sub(rec.session.LastActivityAt)
		rec.mu.Unlock()
		if idle > s.timeout {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartSweeper 启动周期清扫，ctx 取消时退出。
func (s *memorySessionStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Infof("会话清扫完成，驱逐 %d 个过期会话", n)
			}
		}
	}
}
