package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"zerotrace-go/internal/model"
)

// redisSessionStore 是 Redis 后端的会话存储，空闲过期由键 TTL 承担，
// 无需周期清扫。单进程部署下用本地互斥保证同一会话追加的串行化。
type redisSessionStore struct {
	redisClient  *redis.Client
	timeout      time.Duration
	historyLimit int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRedisSessionStore 创建一个 Redis 会话存储。
func NewRedisSessionStore(redisClient *redis.Client, timeout time.Duration, historyLimit int) SessionStore {
	return &redisSessionStore{
		redisClient:  redisClient,
		timeout:      timeout,
		historyLimit: historyLimit,
		locks:        make(map[string]*sync.Mutex),
	}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s:history", id)
}

// sessionLock 返回该会话的进程内互斥锁。
func (r *redisSessionStore) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *redisSessionStore) GetOrCreate(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	key := sessionKey(id)
	// 触达即续期；不存在时写入空历史
	ok, err := r.redisClient.Expire(ctx, key, r.timeout).Result()
	if err != nil {
		return "", fmt.Errorf("failed to touch session: %w", err)
	}
	if !ok {
		if err := r.redisClient.Set(ctx, key, "[]", r.timeout).Err(); err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
	}
	return id, nil
}

func (r *redisSessionStore) History(ctx context.Context, id string) ([]model.Message, error) {
	jsonData, err := r.redisClient.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session history: %w", err)
	}
	return messages, nil
}

func (r *redisSessionStore) AppendTurns(ctx context.Context, id string, msgs ...model.Message) error {
	lock := r.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	history, err := r.History(ctx, id)
	if err != nil {
		return err
	}
	history = append(history, msgs...)
	// 保留最近 historyLimit 条
	if r.historyLimit > 0 && len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := r.redisClient.Set(ctx, sessionKey(id), jsonData, r.timeout).Err(); err != nil {
		return fmt.Errorf("failed to set session history: %w", err)
	}
	return nil
}

func (r *redisSessionStore) Has(ctx context.Context, id string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return n > 0, nil
}

func (r *redisSessionStore) Count(ctx context.Context) (int, error) {
	keys, err := r.redisClient.Keys(ctx, "session:*:history").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return len(keys), nil
}
