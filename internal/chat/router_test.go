package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

type RouterSuite struct {
	suite.Suite

	reg    *Registry
	store  *memoryStore
	router *Router
	ctx    context.Context
}

func (s *RouterSuite) SetupTest() {
	s.reg = NewRegistry()
	s.store = newMemoryStore()
	s.router = NewRouter(s.reg, s.store, WithPersistTimeout(5*time.Second))
	s.ctx = context.Background()
}

func (s *RouterSuite) TearDownTest() {
	s.reg.CloseAll()
	s.router.Close()
}

func (s *RouterSuite) connect(key PairKey, user UserID) *captureConn {
	conn := newCaptureConn()
	_, err := s.reg.Connect(s.ctx, key, user, conn)
	s.Require().NoError(err)
	return conn
}

func (s *RouterSuite) TestBothOnlineDeliversAndPersists() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)
	peerConn := s.connect(key, 2)

	frame, err := s.router.Route(s.ctx, key, 1, "hello")
	s.NoError(err)
	s.Equal(UserID(1), frame.SenderID)
	s.Equal(uint64(1), frame.Seq)
	s.NotEmpty(frame.MessageID)

	// 实时投递到达对端。
	s.Eventually(func() bool {
		return len(peerConn.Frames()) == 1
	}, time.Second, 10*time.Millisecond)
	s.Equal("hello", peerConn.Frames()[0].Body)

	// 持久化异步完成。
	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 1
	}, time.Second, 10*time.Millisecond)
}

func (s *RouterSuite) TestOfflinePeerPersistsOnly() {
	key := mustPairKey(1, 2)
	senderConn := s.connect(key, 1)

	frame, err := s.router.Route(s.ctx, key, 1, "are you there")
	s.NoError(err)
	s.NotZero(frame.Seq)

	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 1
	}, time.Second, 10*time.Millisecond)

	// 发送方不会收到任何回显帧。
	s.Empty(senderConn.Frames())
}

func (s *RouterSuite) TestReplayOnReconnect() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)

	_, err := s.router.Route(s.ctx, key, 1, "first")
	s.NoError(err)
	_, err = s.router.Route(s.ctx, key, 1, "second")
	s.NoError(err)

	// 对端接入后补投离线期间的帧。
	peerConn := s.connect(key, 2)
	sess, _ := s.reg.Lookup(key)
	h, _ := sess.Handle(2)
	pending := sess.TakePending(2)
	s.Len(pending, 2)
	for _, f := range pending {
		s.NoError(h.Deliver(f))
	}

	s.Eventually(func() bool {
		return len(peerConn.Frames()) == 2
	}, time.Second, 10*time.Millisecond)
	frames := peerConn.Frames()
	s.Equal("first", frames[0].Body)
	s.Equal("second", frames[1].Body)
}

func (s *RouterSuite) TestReconnectRestartsSeqWithoutLosingMessages() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)
	s.connect(key, 2)

	first, err := s.router.Route(s.ctx, key, 1, "before drop")
	s.NoError(err)
	s.Equal(uint64(1), first.Seq)
	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 1
	}, time.Second, 10*time.Millisecond)

	// 断线重连后句柄序号从头计数，但新消息必须照常落盘。
	s.reg.Disconnect(key, 1)
	s.connect(key, 1)

	second, err := s.router.Route(s.ctx, key, 1, "after reconnect")
	s.NoError(err)
	s.Equal(uint64(1), second.Seq)
	s.NotEqual(first.MessageID, second.MessageID)

	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 2
	}, time.Second, 10*time.Millisecond)
	recs := s.store.Records(key)
	s.Equal("before drop", recs[0].Body)
	s.Equal("after reconnect", recs[1].Body)
}

func (s *RouterSuite) TestFIFOPerSender() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)
	peerConn := s.connect(key, 2)

	const n = 30
	for i := 0; i < n; i++ {
		_, err := s.router.Route(s.ctx, key, 1, fmt.Sprintf("msg-%d", i))
		s.Require().NoError(err)
	}

	s.Eventually(func() bool {
		return len(peerConn.Frames()) == n
	}, 2*time.Second, 10*time.Millisecond)
	for i, f := range peerConn.Frames() {
		s.Equal(fmt.Sprintf("msg-%d", i), f.Body)
		s.Equal(uint64(i+1), f.Seq)
	}

	s.Eventually(func() bool {
		return len(s.store.Records(key)) == n
	}, 2*time.Second, 10*time.Millisecond)
	for i, rec := range s.store.Records(key) {
		s.Equal(uint64(i+1), rec.Seq)
	}
}

func (s *RouterSuite) TestPersistRetriesTransientFailure() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)
	s.store.failures = 2

	_, err := s.router.Route(s.ctx, key, 1, "retry me")
	s.NoError(err)

	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *RouterSuite) TestRouteWithoutSession() {
	key := mustPairKey(5, 6)
	_, err := s.router.Route(s.ctx, key, 5, "nobody home")
	s.ErrorIs(err, merr.ErrSessionNotFound)
}

func (s *RouterSuite) TestRouteSenderNotConnected() {
	key := mustPairKey(1, 2)
	s.connect(key, 2)

	_, err := s.router.Route(s.ctx, key, 1, "ghost")
	s.ErrorIs(err, merr.ErrHandleNotConnected)
}

func (s *RouterSuite) TestBodySizeLimit() {
	reg := NewRegistry()
	defer reg.CloseAll()
	router := NewRouter(reg, s.store, WithMaxBodySize(8))
	defer router.Close()

	key := mustPairKey(1, 2)
	_, err := reg.Connect(s.ctx, key, 1, newCaptureConn())
	s.Require().NoError(err)

	_, err = router.Route(s.ctx, key, 1, "this body is way too long")
	s.ErrorIs(err, merr.ErrMessageTooLarge)
}

type blockingModerator struct {
	allow bool
	err   error
}

func (m blockingModerator) Allow(ctx context.Context, text string) (bool, error) {
	return m.allow, m.err
}

func (s *RouterSuite) TestModerationRejects() {
	reg := NewRegistry()
	defer reg.CloseAll()
	router := NewRouter(reg, s.store, WithModerator(blockingModerator{allow: false}))
	defer router.Close()

	key := mustPairKey(1, 2)
	_, err := reg.Connect(s.ctx, key, 1, newCaptureConn())
	s.Require().NoError(err)

	_, err = router.Route(s.ctx, key, 1, "toxic text")
	s.ErrorIs(err, merr.ErrMessageRejected)
	s.Empty(s.store.Records(key))
}

func (s *RouterSuite) TestModerationFailsOpen() {
	reg := NewRegistry()
	defer reg.CloseAll()
	router := NewRouter(reg, s.store, WithModerator(blockingModerator{err: merr.ErrServiceUnavailable}))
	defer router.Close()

	key := mustPairKey(1, 2)
	_, err := reg.Connect(s.ctx, key, 1, newCaptureConn())
	s.Require().NoError(err)

	_, err = router.Route(s.ctx, key, 1, "still goes through")
	s.NoError(err)
	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 1
	}, time.Second, 10*time.Millisecond)
}

func (s *RouterSuite) TestHistory() {
	key := mustPairKey(1, 2)
	s.connect(key, 1)

	for i := 0; i < 5; i++ {
		_, err := s.router.Route(s.ctx, key, 1, fmt.Sprintf("h-%d", i))
		s.Require().NoError(err)
	}
	s.Eventually(func() bool {
		return len(s.store.Records(key)) == 5
	}, time.Second, 10*time.Millisecond)

	recs, err := s.router.History(s.ctx, key, 3)
	s.NoError(err)
	s.Len(recs, 3)
	s.Equal("h-2", recs[0].Body)
	s.Equal("h-4", recs[2].Body)
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
