package chat

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// captureConn 为测试用的连接实现，记录所有写出的帧。
type captureConn struct {
	mu     sync.Mutex
	frames []Frame

	closed    *atomic.Bool
	failWrite *atomic.Bool
}

func newCaptureConn() *captureConn {
	return &captureConn{
		closed:    atomic.NewBool(false),
		failWrite: atomic.NewBool(false),
	}
}

func (c *captureConn) WriteFrame(f Frame) error {
	if c.failWrite.Load() {
		return merr.ErrTransportSend
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *captureConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// memoryStore 为测试用的消息存储，可注入前 N 次失败。
type memoryStore struct {
	mu       sync.Mutex
	records  []MessageRecord
	seen     map[string]struct{}
	failures int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{seen: make(map[string]struct{})}
}

func (s *memoryStore) Persist(ctx context.Context, rec MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return merr.ErrIoFailed
	}
	if _, ok := s.seen[rec.MessageID]; ok {
		return nil
	}
	s.seen[rec.MessageID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryStore) History(ctx context.Context, key PairKey, limit int) ([]MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageRecord
	for _, rec := range s.records {
		if rec.Key == key {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) Records(key PairKey) []MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageRecord
	for _, rec := range s.records {
		if rec.Key == key {
			out = append(out, rec)
		}
	}
	return out
}

// memoryMatches 为测试用的配对存储。
type memoryMatches struct {
	mu      sync.Mutex
	pairs   map[PairKey]struct{}
	failure error
}

func newMemoryMatches() *memoryMatches {
	return &memoryMatches{pairs: make(map[PairKey]struct{})}
}

func (m *memoryMatches) Add(a, b UserID) {
	key, _ := NewPairKey(a, b)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[key] = struct{}{}
}

func (m *memoryMatches) IsMatched(ctx context.Context, a, b UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return false, m.failure
	}
	key, err := NewPairKey(a, b)
	if err != nil {
		return false, err
	}
	_, ok := m.pairs[key]
	return ok, nil
}

func mustPairKey(a, b UserID) PairKey {
	key, err := NewPairKey(a, b)
	if err != nil {
		panic(err)
	}
	return key
}
