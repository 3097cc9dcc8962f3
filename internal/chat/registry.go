package chat

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/metrics"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// ReplacePolicy 定义同一 (PairKey, UserID) 槽位上出现新连接时的处理策略。
type ReplacePolicy int

const (
	// ReplaceOldHandle 关闭并驱逐旧句柄，接纳新连接。默认策略。
	ReplaceOldHandle ReplacePolicy = iota
	// RejectNewHandle 保留旧句柄，拒绝新连接。
	RejectNewHandle
)

const defaultShardNum = 16

type registryShard struct {
	mu       sync.RWMutex
	sessions map[PairKey]*Session
}

// Registry 管理全部配对会话，按 PairKey 分片以降低锁竞争。
//
// 行为：
//   - Connect 的调用方必须已经通过授权检查，注册表本身不做配对校验；
//   - 每个 (PairKey, UserID) 槽位至多持有一个存活句柄；
//   - 会话的最后一个句柄断开后，会话条目立即被移除。
type Registry struct {
	policy    ReplacePolicy
	queueSize int
	replayCap int
	shards    []*registryShard
}

// RegistryOption 用于配置 Registry 行为。
type RegistryOption func(*Registry)

// WithReplacePolicy 设置重复接入策略。
func WithReplacePolicy(p ReplacePolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithSendQueueSize 设置每个句柄的出站队列长度。
func WithSendQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithReplayCapacity 设置每个会话的补投缓冲容量。
func WithReplayCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.replayCap = n
		}
	}
}

// WithShardNum 设置分片数量。
func WithShardNum(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*registryShard, n)
		}
	}
}

// NewRegistry 创建会话注册表。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policy:    ReplaceOldHandle,
		queueSize: 64,
		replayCap: 256,
		shards:    make([]*registryShard, defaultShardNum),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{
			sessions: make(map[PairKey]*Session),
		}
	}
	return r
}

func (r *Registry) shardFor(key PairKey) *registryShard {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(key.Low >> (8 * i))
		buf[8+i] = byte(key.High >> (8 * i))
	}
	h.Write(buf[:])
	return r.shards[h.Sum64()%uint64(len(r.shards))]
}

// Connect 为 user 在 key 对应的会话中接入一条新连接。
//
// 参数：
//   - ctx 为连接级上下文，句柄生命周期挂接其上；
//   - conn 的所有权移交给返回的句柄。
//
// 行为：
//   - user 不属于 key 时返回 ErrIdentityMismatch；
//   - 槽位已占用时按 ReplacePolicy 处理；
//   - 旧句柄的关闭发生在分片锁之外，避免阻塞其他会话操作。
func (r *Registry) Connect(ctx context.Context, key PairKey, user UserID, conn Conn) (*Session, error) {
	if !key.Contains(user) {
		metrics.ConnectsRejected.WithLabelValues("identity_mismatch").Inc()
		return nil, merr.WrapErrIdentityMismatch(user, key)
	}

	shard := r.shardFor(key)
	shard.mu.Lock()

	sess, ok := shard.sessions[key]
	if !ok {
		sess = newSession(key, r.replayCap)
		shard.sessions[key] = sess
		metrics.ActiveSessions.Inc()
	}

	old, exists := sess.Handle(user)
	if exists {
		if r.policy == RejectNewHandle {
			shard.mu.Unlock()
			metrics.ConnectsRejected.WithLabelValues("already_connected").Inc()
			return nil, merr.WrapErrHandleAlreadyConnected(key, user)
		}
		sess.removeHandle(user)
		metrics.HandlesReplaced.Inc()
	}

	h := newHandle(ctx, key, user, conn, r.queueSize)
	sess.setHandle(user, h)
	shard.mu.Unlock()

	if exists {
		old.Close()
		metrics.ActiveConnections.Dec()
		log.Info("replaced old handle",
			zap.String("pair", key.String()),
			zap.Int64("user", user))
	}

	metrics.ActiveConnections.Inc()
	metrics.ConnectsTotal.WithLabelValues("ok").Inc()
	log.Info("handle connected",
		zap.String("pair", key.String()),
		zap.Int64("user", user))
	return sess, nil
}

// Disconnect 断开 user 在 key 会话中的连接，幂等。
// 最后一个句柄断开后会话条目被移除。
func (r *Registry) Disconnect(key PairKey, user UserID) {
	r.disconnect(key, user, nil)
}

// DisconnectHandle 断开 user 在 key 会话中的连接，但仅当槽位仍由 h 占用。
// 旧连接的延迟清理在句柄已被替换后执行时不会误伤新句柄。
func (r *Registry) DisconnectHandle(key PairKey, user UserID, h *Handle) {
	if h == nil {
		return
	}
	r.disconnect(key, user, h)
}

func (r *Registry) disconnect(key PairKey, user UserID, expect *Handle) {
	shard := r.shardFor(key)
	shard.mu.Lock()

	sess, ok := shard.sessions[key]
	if !ok {
		shard.mu.Unlock()
		return
	}

	if expect != nil {
		cur, ok := sess.Handle(user)
		if !ok || cur != expect {
			shard.mu.Unlock()
			return
		}
	}

	h, removed := sess.removeHandle(user)
	if sess.Empty() {
		delete(shard.sessions, key)
		metrics.ActiveSessions.Dec()
	}
	shard.mu.Unlock()

	if !removed {
		return
	}

	h.Close()
	metrics.ActiveConnections.Dec()
	log.Info("handle disconnected",
		zap.String("pair", key.String()),
		zap.Int64("user", user))
}

// Lookup 返回 key 对应的会话。
func (r *Registry) Lookup(key PairKey) (*Session, bool) {
	shard := r.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[key]
	return sess, ok
}

// Count 返回当前会话数量。
func (r *Registry) Count() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		total += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return total
}

// Range 遍历全部会话，fn 返回 false 时终止。
func (r *Registry) Range(fn func(*Session) bool) {
	for _, shard := range r.shards {
		shard.mu.RLock()
		sessions := make([]*Session, 0, len(shard.sessions))
		for _, sess := range shard.sessions {
			sessions = append(sessions, sess)
		}
		shard.mu.RUnlock()

		for _, sess := range sessions {
			if !fn(sess) {
				return
			}
		}
	}
}

// CloseAll 关闭全部会话与句柄，用于进程退出。
func (r *Registry) CloseAll() {
	for _, shard := range r.shards {
		shard.mu.Lock()
		sessions := shard.sessions
		shard.sessions = make(map[PairKey]*Session)
		shard.mu.Unlock()

		for _, sess := range sessions {
			for _, h := range sess.Handles() {
				h.Close()
				metrics.ActiveConnections.Dec()
			}
			metrics.ActiveSessions.Dec()
		}
	}
}
