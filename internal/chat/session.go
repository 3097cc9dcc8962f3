package chat

import (
	"sync"

	"github.com/lk2023060901/pairchat-go/pkg/buffer/ring"
)

// Session 聚合同一 PairKey 下的连接句柄，至多两个（每个成员一个槽位）。
//
// 说明：
//   - Session 仅在至少存在一个句柄时出现在注册表中，
//     最后一个句柄断开后整个会话即被移除；
//   - pending 缓存对端离线期间未能实时投递的帧，供重新接入时补投。
type Session struct {
	key PairKey

	mu      sync.RWMutex
	handles map[UserID]*Handle
	pending *ring.Ring[Frame]
}

func newSession(key PairKey, replayCap int) *Session {
	if replayCap <= 0 {
		replayCap = 256
	}
	return &Session{
		key:     key,
		handles: make(map[UserID]*Handle, 2),
		pending: ring.New[Frame](replayCap),
	}
}

// Key 返回会话的配对键。
func (s *Session) Key() PairKey {
	return s.key
}

// Handle 返回指定用户的连接句柄。
func (s *Session) Handle(user UserID) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[user]
	return h, ok
}

// Handles 返回当前全部句柄的快照。
func (s *Session) Handles() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Empty 判断会话是否不再持有任何句柄。
func (s *Session) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles) == 0
}

// bufferPending 缓存一帧未能实时投递的消息。
func (s *Session) bufferPending(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Push(f)
}

// TakePending 取出应补投给 user 的帧（即对端发出的帧），按原顺序返回。
func (s *Session) TakePending(user UserID) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.DrainWhere(func(f Frame) bool {
		return f.SenderID != user
	})
}

func (s *Session) setHandle(user UserID, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[user] = h
}

func (s *Session) removeHandle(user UserID) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[user]
	if ok {
		delete(s.handles, user)
	}
	return h, ok
}
