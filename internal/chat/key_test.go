package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

func TestNewPairKeyCanonicalizes(t *testing.T) {
	k1, err := NewPairKey(2, 1)
	assert.NoError(t, err)
	k2, err := NewPairKey(1, 2)
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, UserID(1), k1.Low)
	assert.Equal(t, UserID(2), k1.High)
	assert.Equal(t, "1:2", k1.String())
}

func TestNewPairKeyRejectsSelfPair(t *testing.T) {
	_, err := NewPairKey(7, 7)
	assert.ErrorIs(t, err, merr.ErrPairKeyInvalid)
}

func TestNewPairKeyRejectsNonPositive(t *testing.T) {
	_, err := NewPairKey(0, 5)
	assert.ErrorIs(t, err, merr.ErrPairKeyInvalid)
	_, err = NewPairKey(5, -1)
	assert.ErrorIs(t, err, merr.ErrPairKeyInvalid)
}

func TestPairKeyPeer(t *testing.T) {
	k, _ := NewPairKey(1, 2)

	peer, ok := k.Peer(1)
	assert.True(t, ok)
	assert.Equal(t, UserID(2), peer)

	peer, ok = k.Peer(2)
	assert.True(t, ok)
	assert.Equal(t, UserID(1), peer)

	_, ok = k.Peer(3)
	assert.False(t, ok)
	assert.False(t, k.Contains(3))
	assert.True(t, k.Contains(1))
}
