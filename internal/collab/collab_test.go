package collab

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

func TestJWTIdentityRoundTrip(t *testing.T) {
	provider := NewJWTIdentity([]byte("test-secret"), time.Minute)

	token, err := provider.Sign(42, time.Hour)
	require.NoError(t, err)

	id, err := provider.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, chat.UserID(42), id)
}

func TestJWTIdentityRejectsExpired(t *testing.T) {
	provider := NewJWTIdentity([]byte("test-secret"), 0)

	token, err := provider.Sign(42, -time.Hour)
	require.NoError(t, err)

	_, err = provider.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, merr.ErrIdentityInvalid)
}

func TestJWTIdentityRejectsWrongSecret(t *testing.T) {
	signer := NewJWTIdentity([]byte("secret-a"), 0)
	verifier := NewJWTIdentity([]byte("secret-b"), 0)

	token, err := signer.Sign(42, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, merr.ErrIdentityInvalid)
}

func TestJWTIdentityRejectsGarbage(t *testing.T) {
	provider := NewJWTIdentity([]byte("test-secret"), 0)

	_, err := provider.Resolve(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, merr.ErrIdentityInvalid)

	_, err = provider.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestStaticIdentity(t *testing.T) {
	provider := StaticIdentity{"alice-token": 1}

	id, err := provider.Resolve(context.Background(), "alice-token")
	require.NoError(t, err)
	assert.Equal(t, chat.UserID(1), id)

	_, err = provider.Resolve(context.Background(), "bob-token")
	assert.ErrorIs(t, err, merr.ErrIdentityInvalid)
}

func TestMemoryMatchStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMatchStore()

	ok, err := store.IsMatched(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.AddMatch(ctx, 2, 1))

	// 方向无关。
	ok, err = store.IsMatched(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsMatched(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RemoveMatch(ctx, 1, 2))
	ok, err = store.IsMatched(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryMessageStorePersistIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	key, err := chat.NewPairKey(1, 2)
	require.NoError(t, err)

	rec := chat.MessageRecord{
		Key:       key,
		MessageID: "m-1",
		SenderID:  1,
		Body:      "hello",
		Seq:       1,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.Persist(ctx, rec))
	// 至少一次语义下的重复写入不产生重复记录。
	require.NoError(t, store.Persist(ctx, rec))

	recs, err := store.History(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryMessageStoreDedupByMessageID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	key, err := chat.NewPairKey(1, 2)
	require.NoError(t, err)

	// 连接重建后 Seq 从头计数，相同 (sender, seq) 的不同消息均应落盘。
	require.NoError(t, store.Persist(ctx, chat.MessageRecord{
		Key: key, MessageID: "m-1", SenderID: 1, Body: "before drop", Seq: 1,
	}))
	require.NoError(t, store.Persist(ctx, chat.MessageRecord{
		Key: key, MessageID: "m-2", SenderID: 1, Body: "after reconnect", Seq: 1,
	}))

	recs, err := store.History(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "before drop", recs[0].Body)
	assert.Equal(t, "after reconnect", recs[1].Body)
}

func TestMemoryMessageStoreHistoryLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	key, err := chat.NewPairKey(1, 2)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, store.Persist(ctx, chat.MessageRecord{
			Key:       key,
			MessageID: fmt.Sprintf("m-%d", i),
			SenderID:  1,
			Body:      "msg",
			Seq:       i,
		}))
	}

	recs, err := store.History(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(4), recs[0].Seq)
	assert.Equal(t, uint64(5), recs[1].Seq)
}
