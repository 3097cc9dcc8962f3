package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// 典型交互流程：已配对的用户 1 与 2 完成接入、互发消息并断开。
func TestMatchedPairFullFlow(t *testing.T) {
	ctx := context.Background()
	matches := newMemoryMatches()
	matches.Add(1, 2)

	gate := NewGate(matches)
	reg := NewRegistry()
	defer reg.CloseAll()
	store := newMemoryStore()
	router := NewRouter(reg, store)
	defer router.Close()

	key := mustPairKey(1, 2)
	require.NoError(t, gate.Authorized(ctx, key))

	conn1 := newCaptureConn()
	_, err := reg.Connect(ctx, key, 1, conn1)
	require.NoError(t, err)
	conn2 := newCaptureConn()
	_, err = reg.Connect(ctx, key, 2, conn2)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Count())

	// 用户 1 发消息，用户 2 实时收到且消息落盘。
	frame, err := router.Route(ctx, key, 1, "hi")
	require.NoError(t, err)
	require.Equal(t, UserID(1), frame.SenderID)
	require.Eventually(t, func() bool {
		return len(conn2.Frames()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "hi", conn2.Frames()[0].Body)
	require.Eventually(t, func() bool {
		return len(store.Records(key)) == 1
	}, time.Second, 10*time.Millisecond)

	// 用户 1 断开后，用户 2 的消息只落盘不投递。
	reg.Disconnect(key, 1)
	_, err = router.Route(ctx, key, 2, "you still there?")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(store.Records(key)) == 2
	}, time.Second, 10*time.Millisecond)
	require.Empty(t, conn1.Frames())

	// 双方都断开后会话消失。
	reg.Disconnect(key, 2)
	require.Equal(t, 0, reg.Count())
	_, ok := reg.Lookup(key)
	require.False(t, ok)
}

// 未配对的用户 3 与 4 在授权阶段即被拒绝，注册表不产生任何状态。
func TestUnmatchedPairRefused(t *testing.T) {
	ctx := context.Background()
	matches := newMemoryMatches()
	matches.Add(1, 2)

	gate := NewGate(matches)
	reg := NewRegistry()
	defer reg.CloseAll()

	key := mustPairKey(3, 4)
	err := gate.Authorized(ctx, key)
	require.ErrorIs(t, err, merr.ErrPairNotMatched)

	require.Equal(t, 0, reg.Count())
	_, ok := reg.Lookup(key)
	require.False(t, ok)
}
