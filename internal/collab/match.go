package collab

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/internal/json"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// RedisMatchStore 基于 Redis 哈希的配对关系存储。
//
// 数据布局：哈希 {prefix}，field 为用户 ID，value 为该用户全部已配对
// 用户 ID 的 JSON 数组。双向各存一份，查询时要求两个方向一致。
type RedisMatchStore struct {
	client *redis.Client
	key    string
}

// NewRedisMatchStore 创建 Redis 配对存储，key 为空时使用 "matches"。
func NewRedisMatchStore(client *redis.Client, key string) *RedisMatchStore {
	if key == "" {
		key = "matches"
	}
	return &RedisMatchStore{
		client: client,
		key:    key,
	}
}

var _ chat.MatchStore = (*RedisMatchStore)(nil)

// IsMatched 判断 a 与 b 是否互为配对。
func (s *RedisMatchStore) IsMatched(ctx context.Context, a, b chat.UserID) (bool, error) {
	ok, err := s.contains(ctx, a, b)
	if err != nil || !ok {
		return false, err
	}
	return s.contains(ctx, b, a)
}

func (s *RedisMatchStore) contains(ctx context.Context, owner, other chat.UserID) (bool, error) {
	raw, err := s.client.HGet(ctx, s.key, strconv.FormatInt(owner, 10)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, merr.WrapErrIoFailed(s.key, err)
	}

	var ids []chat.UserID
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return false, merr.WrapErrIoFailed(s.key, err)
	}
	for _, id := range ids {
		if id == other {
			return true, nil
		}
	}
	return false, nil
}

// AddMatch 记录一对新的配对关系，双向写入。
func (s *RedisMatchStore) AddMatch(ctx context.Context, a, b chat.UserID) error {
	if err := s.appendTo(ctx, a, b); err != nil {
		return err
	}
	return s.appendTo(ctx, b, a)
}

func (s *RedisMatchStore) appendTo(ctx context.Context, owner, other chat.UserID) error {
	field := strconv.FormatInt(owner, 10)
	raw, err := s.client.HGet(ctx, s.key, field).Result()
	if err != nil && err != redis.Nil {
		return merr.WrapErrIoFailed(s.key, err)
	}

	var ids []chat.UserID
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return merr.WrapErrIoFailed(s.key, err)
		}
	}
	for _, id := range ids {
		if id == other {
			return nil
		}
	}
	ids = append(ids, other)

	data, err := json.Marshal(ids)
	if err != nil {
		return merr.WrapErrIoFailed(s.key, err)
	}
	if err := s.client.HSet(ctx, s.key, field, string(data)).Err(); err != nil {
		return merr.WrapErrIoFailed(s.key, err)
	}
	return nil
}

// MemoryMatchStore 为内存版配对存储，用于测试与单机部署。
type MemoryMatchStore struct {
	mu    sync.RWMutex
	pairs map[chat.PairKey]struct{}
}

// NewMemoryMatchStore 创建内存配对存储。
func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{
		pairs: make(map[chat.PairKey]struct{}),
	}
}

var _ chat.MatchStore = (*MemoryMatchStore)(nil)

func (s *MemoryMatchStore) IsMatched(ctx context.Context, a, b chat.UserID) (bool, error) {
	key, err := chat.NewPairKey(a, b)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairs[key]
	return ok, nil
}

// AddMatch 记录一对配对关系。
func (s *MemoryMatchStore) AddMatch(ctx context.Context, a, b chat.UserID) error {
	key, err := chat.NewPairKey(a, b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[key] = struct{}{}
	return nil
}

// RemoveMatch 解除一对配对关系。
func (s *MemoryMatchStore) RemoveMatch(ctx context.Context, a, b chat.UserID) error {
	key, err := chat.NewPairKey(a, b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, key)
	return nil
}
