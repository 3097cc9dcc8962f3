package chat

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

func TestGateAuthorizedPair(t *testing.T) {
	matches := newMemoryMatches()
	matches.Add(1, 2)
	gate := NewGate(matches)

	assert.NoError(t, gate.Authorized(context.Background(), mustPairKey(1, 2)))
	assert.NoError(t, gate.Authorized(context.Background(), mustPairKey(2, 1)))
}

func TestGateRefusesUnmatchedPair(t *testing.T) {
	matches := newMemoryMatches()
	matches.Add(1, 2)
	gate := NewGate(matches)

	err := gate.Authorized(context.Background(), mustPairKey(3, 4))
	assert.ErrorIs(t, err, merr.ErrPairNotMatched)
}

func TestGateFailsClosedOnStoreError(t *testing.T) {
	matches := newMemoryMatches()
	matches.Add(1, 2)
	matches.failure = errors.New("redis down")
	gate := NewGate(matches)

	// 即便配对存在，存储故障也必须拒绝接入。
	err := gate.Authorized(context.Background(), mustPairKey(1, 2))
	assert.ErrorIs(t, err, merr.ErrMatchLookupFailed)
}

func TestGateNoCaching(t *testing.T) {
	matches := newMemoryMatches()
	matches.Add(1, 2)
	gate := NewGate(matches)
	key := mustPairKey(1, 2)

	assert.NoError(t, gate.Authorized(context.Background(), key))

	// 配对关系解除后，后续检查立即生效。
	matches.mu.Lock()
	delete(matches.pairs, key)
	matches.mu.Unlock()
	assert.ErrorIs(t, gate.Authorized(context.Background(), key), merr.ErrPairNotMatched)
}
