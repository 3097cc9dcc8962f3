package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/internal/json"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// RedisMessageStore 基于 Redis 列表的消息存储。
//
// 数据布局：
//   - 列表 {prefix}:{low}:{high} 按落盘顺序保存消息 JSON；
//   - 集合 {prefix}:{low}:{high}:seen 保存 MessageID 去重键，
//     保证至少一次重试下的写入幂等。Seq 随连接重建从头计数，
//     不能充当去重键。
type RedisMessageStore struct {
	client *redis.Client
	prefix string
}

// NewRedisMessageStore 创建 Redis 消息存储，prefix 为空时使用 "chat"。
func NewRedisMessageStore(client *redis.Client, prefix string) *RedisMessageStore {
	if prefix == "" {
		prefix = "chat"
	}
	return &RedisMessageStore{
		client: client,
		prefix: prefix,
	}
}

var _ chat.MessageStore = (*RedisMessageStore)(nil)

func (s *RedisMessageStore) listKey(key chat.PairKey) string {
	return fmt.Sprintf("%s:%d:%d", s.prefix, key.Low, key.High)
}

func (s *RedisMessageStore) seenKey(key chat.PairKey) string {
	return s.listKey(key) + ":seen"
}

// Persist 写入一条消息，对 MessageID 幂等。
func (s *RedisMessageStore) Persist(ctx context.Context, rec chat.MessageRecord) error {
	added, err := s.client.SAdd(ctx, s.seenKey(rec.Key), rec.MessageID).Result()
	if err != nil {
		return merr.WrapErrIoFailed(s.listKey(rec.Key), err)
	}
	if added == 0 {
		// 重试补发的重复记录，之前已经落盘。
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return merr.WrapErrIoFailed(s.listKey(rec.Key), err)
	}
	if err := s.client.RPush(ctx, s.listKey(rec.Key), string(data)).Err(); err != nil {
		return merr.WrapErrIoFailed(s.listKey(rec.Key), err)
	}
	return nil
}

// History 返回最近 limit 条消息，limit 不大于 0 时返回全部。
func (s *RedisMessageStore) History(ctx context.Context, key chat.PairKey, limit int) ([]chat.MessageRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.client.LRange(ctx, s.listKey(key), start, -1).Result()
	if err != nil {
		return nil, merr.WrapErrIoFailed(s.listKey(key), err)
	}

	out := make([]chat.MessageRecord, 0, len(raws))
	for _, raw := range raws {
		var rec chat.MessageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, merr.WrapErrIoFailed(s.listKey(key), err)
		}
		rec.Key = key
		out = append(out, rec)
	}
	return out, nil
}

// MemoryMessageStore 为内存版消息存储，用于测试与单机部署。
type MemoryMessageStore struct {
	mu      sync.RWMutex
	records map[chat.PairKey][]chat.MessageRecord
	seen    map[string]struct{}
}

// NewMemoryMessageStore 创建内存消息存储。
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		records: make(map[chat.PairKey][]chat.MessageRecord),
		seen:    make(map[string]struct{}),
	}
}

var _ chat.MessageStore = (*MemoryMessageStore)(nil)

func (s *MemoryMessageStore) Persist(ctx context.Context, rec chat.MessageRecord) error {
	dedup := rec.MessageID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[dedup]; ok {
		return nil
	}
	s.seen[dedup] = struct{}{}
	s.records[rec.Key] = append(s.records[rec.Key], rec)
	return nil
}

func (s *MemoryMessageStore) History(ctx context.Context, key chat.PairKey, limit int) ([]chat.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[key]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]chat.MessageRecord, len(recs))
	copy(out, recs)
	return out, nil
}
