package chat

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/metrics"
	"github.com/lk2023060901/pairchat-go/pkg/util/conc"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// MessageStore 持久化聊天消息。
// Persist 需要对 MessageID 幂等，路由层按至少一次语义重试。
type MessageStore interface {
	Persist(ctx context.Context, rec MessageRecord) error
	History(ctx context.Context, key PairKey, limit int) ([]MessageRecord, error)
}

// Moderator 对消息内容进行审核，返回是否放行。
type Moderator interface {
	Allow(ctx context.Context, text string) (bool, error)
}

// Router 负责单条消息的路由：先持久化（异步、至少一次），
// 再尽力实时投递给对端。
//
// 行为：
//   - 持久化按 PairKey 串行，保证同一发送方的落盘顺序与 Route 调用顺序一致；
//   - 对端离线或投递失败时，消息进入会话的补投缓冲，不视为路由失败；
//   - 审核服务不可用时放行消息（fail open），仅超阈值才拒绝。
type Router struct {
	reg       *Registry
	store     MessageStore
	moderator Moderator

	pool           *conc.Pool[struct{}]
	persistTimeout time.Duration
	maxBodySize    int

	mu     sync.Mutex
	queues map[PairKey]*persistQueue
}

type persistQueue struct {
	mu       sync.Mutex
	items    []MessageRecord
	draining bool
}

// RouterOption 用于配置 Router 行为。
type RouterOption func(*Router)

// WithModerator 设置消息内容审核器。
func WithModerator(m Moderator) RouterOption {
	return func(rt *Router) {
		rt.moderator = m
	}
}

// WithPersistWorkers 设置持久化协程池容量。
func WithPersistWorkers(n int) RouterOption {
	return func(rt *Router) {
		if n > 0 {
			rt.pool.Release()
			rt.pool = conc.NewPool[struct{}](n, WithPersistPoolOptions()...)
		}
	}
}

// WithPersistTimeout 设置单条消息持久化（含重试）的最长耗时。
func WithPersistTimeout(d time.Duration) RouterOption {
	return func(rt *Router) {
		if d > 0 {
			rt.persistTimeout = d
		}
	}
}

// WithMaxBodySize 设置单条消息体的最大字节数，0 表示不限制。
func WithMaxBodySize(n int) RouterOption {
	return func(rt *Router) {
		rt.maxBodySize = n
	}
}

// WithPersistPoolOptions 返回持久化协程池使用的通用选项。
func WithPersistPoolOptions() []conc.PoolOption {
	return []conc.PoolOption{
		conc.WithConcealPanic(true),
	}
}

// NewRouter 创建消息路由器。
func NewRouter(reg *Registry, store MessageStore, opts ...RouterOption) *Router {
	rt := &Router{
		reg:            reg,
		store:          store,
		pool:           conc.NewPool[struct{}](8, WithPersistPoolOptions()...),
		persistTimeout: 30 * time.Second,
		queues:         make(map[PairKey]*persistQueue),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Route 路由一条由 sender 发往 key 对端的消息。
//
// 参数：
//   - sender 必须在 key 会话中持有存活句柄；
//   - body 为原始消息文本。
//
// 返回已分配序号与消息 ID 的帧。持久化异步完成，不阻塞返回。
func (rt *Router) Route(ctx context.Context, key PairKey, sender UserID, body string) (Frame, error) {
	start := time.Now()
	defer func() {
		metrics.RouteLatency.Observe(time.Since(start).Seconds())
	}()

	sess, ok := rt.reg.Lookup(key)
	if !ok {
		return Frame{}, merr.WrapErrSessionNotFound(key)
	}
	h, ok := sess.Handle(sender)
	if !ok || !h.Alive() {
		return Frame{}, merr.WrapErrHandleNotConnected(key, sender)
	}

	if rt.maxBodySize > 0 && len(body) > rt.maxBodySize {
		return Frame{}, merr.WrapErrMessageTooLarge(len(body), rt.maxBodySize)
	}

	if rt.moderator != nil {
		allowed, err := rt.moderator.Allow(ctx, body)
		if err != nil {
			log.Ctx(ctx).RatedWarn(1.0, "moderation unavailable, letting message through",
				zap.String("pair", key.String()),
				zap.Error(err))
		} else if !allowed {
			metrics.MessagesRejected.Inc()
			return Frame{}, merr.WrapErrMessageRejected(key, sender)
		}
	}

	now := time.Now().UTC()
	frame := Frame{
		MessageID: uuid.NewString(),
		SenderID:  sender,
		Body:      body,
		Seq:       h.NextSeq(),
		Timestamp: now.UnixMilli(),
	}

	rt.enqueuePersist(MessageRecord{
		Key:       key,
		MessageID: frame.MessageID,
		SenderID:  sender,
		Body:      body,
		Seq:       frame.Seq,
		Timestamp: now,
	})

	peerID, _ := key.Peer(sender)
	delivered := false
	if peer, ok := sess.Handle(peerID); ok && peer.Alive() {
		if err := peer.Deliver(frame); err != nil {
			log.Ctx(ctx).Warn("live delivery failed, buffering frame",
				zap.String("pair", key.String()),
				zap.Int64("peer", peerID),
				zap.Error(err))
			sess.bufferPending(frame)
		} else {
			delivered = true
		}
	} else {
		sess.bufferPending(frame)
	}

	if delivered {
		metrics.MessagesRouted.WithLabelValues("live").Inc()
	} else {
		metrics.MessagesRouted.WithLabelValues("offline").Inc()
	}
	return frame, nil
}

// History 返回 key 会话最近的持久化消息。
func (rt *Router) History(ctx context.Context, key PairKey, limit int) ([]MessageRecord, error) {
	recs, err := rt.store.History(ctx, key, limit)
	if err != nil {
		return nil, merr.WrapErrHistoryUnavailable(err, key)
	}
	return recs, nil
}

// enqueuePersist 将记录排入所属 PairKey 的串行持久化队列。
// 每个队列同一时刻至多一个 drain 任务在协程池中执行，保证落盘顺序。
func (rt *Router) enqueuePersist(rec MessageRecord) {
	rt.mu.Lock()
	q, ok := rt.queues[rec.Key]
	if !ok {
		q = &persistQueue{}
		rt.queues[rec.Key] = q
	}
	q.mu.Lock()
	q.items = append(q.items, rec)
	startDrain := !q.draining
	if startDrain {
		q.draining = true
	}
	q.mu.Unlock()
	rt.mu.Unlock()

	if startDrain {
		rt.pool.Submit(func() (struct{}, error) {
			rt.drain(rec.Key, q)
			return struct{}{}, nil
		})
	}
}

func (rt *Router) drain(key PairKey, q *persistQueue) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			rt.cleanupQueue(key, q)
			return
		}
		rec := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		rt.persistWithRetry(rec)
	}
}

// cleanupQueue 在队列空闲时将其从映射中移除，避免长期累积。
func (rt *Router) cleanupQueue(key PairKey, q *persistQueue) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	cur, ok := rt.queues[key]
	if !ok || cur != q {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 && !q.draining {
		delete(rt.queues, key)
	}
}

func (rt *Router) persistWithRetry(rec MessageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.persistTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			metrics.PersistRetries.Inc()
		}
		attempt++
		return rt.store.Persist(ctx, rec)
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		metrics.PersistFailures.Inc()
		log.Error("message persist failed after retries",
			zap.String("pair", rec.Key.String()),
			zap.Int64("sender", rec.SenderID),
			zap.Uint64("seq", rec.Seq),
			zap.Int("attempts", attempt),
			zap.Error(merr.WrapErrMessagePersist(err, rec.Key, rec.Seq)))
		return
	}
	metrics.MessagesPersisted.Inc()
}

// Close 释放持久化协程池。应在注册表关闭后调用。
func (rt *Router) Close() {
	rt.pool.Release()
}
