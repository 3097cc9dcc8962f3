package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceDerivedFromRegistry(t *testing.T) {
	reg := NewRegistry()
	defer reg.CloseAll()
	presence := NewPresence(reg)
	ctx := context.Background()

	assert.False(t, presence.IsPresent(1))

	k12 := mustPairKey(1, 2)
	k13 := mustPairKey(1, 3)
	_, err := reg.Connect(ctx, k12, 1, newCaptureConn())
	require.NoError(t, err)
	_, err = reg.Connect(ctx, k13, 1, newCaptureConn())
	require.NoError(t, err)
	_, err = reg.Connect(ctx, k12, 2, newCaptureConn())
	require.NoError(t, err)

	assert.True(t, presence.IsPresent(1))
	assert.True(t, presence.IsPresent(2))
	assert.False(t, presence.IsPresent(3))

	sessions := presence.ActiveSessionsOf(1)
	assert.Equal(t, 2, sessions.Len())
	assert.True(t, sessions.Contain(k12))
	assert.True(t, sessions.Contain(k13))

	online := presence.OnlineUsers()
	assert.True(t, online.Contain(1))
	assert.True(t, online.Contain(2))
	assert.False(t, online.Contain(3))
}

func TestPresenceFollowsDisconnect(t *testing.T) {
	reg := NewRegistry()
	defer reg.CloseAll()
	presence := NewPresence(reg)
	key := mustPairKey(1, 2)

	_, err := reg.Connect(context.Background(), key, 1, newCaptureConn())
	require.NoError(t, err)
	assert.True(t, presence.IsPresent(1))

	reg.Disconnect(key, 1)
	assert.False(t, presence.IsPresent(1))
	assert.Equal(t, 0, presence.ActiveSessionsOf(1).Len())
}
