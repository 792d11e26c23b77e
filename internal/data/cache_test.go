package data

import (
	"context"
	"testing"
	"time"

	"MsgBridge/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (CacheClient, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewCacheClient(rdb), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	msgs := []model.Message{
		{
			MessageID:    "m1",
			DepositionID: "D_000001",
			Timestamp:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			Sender:       "annotator@rcsb.org",
			Subject:      "Validation report",
			Text:         "please review",
		},
	}

	key := BuildCacheKey(CacheKeyMessages, "D_000001")
	require.NoError(t, cache.Set(ctx, key, msgs, TTLMessages))

	var got []model.Message
	require.NoError(t, cache.Get(ctx, key, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "Validation report", got[0].Subject)
	assert.True(t, msgs[0].Timestamp.Equal(got[0].Timestamp))
}

func TestCacheGet_KeyNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var dest []model.Message
	err := cache.Get(context.Background(), BuildCacheKey(CacheKeyMessages, "D_404"), &dest)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCacheDelete(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	key := BuildCacheKey(CacheKeyMessages, "D_000001")
	require.NoError(t, cache.Set(ctx, key, []model.Message{{MessageID: "m1"}}, TTLMessages))

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Delete(ctx, key))

	exists, err = cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	key := BuildCacheKey(CacheKeyMessages, "D_000001")
	require.NoError(t, cache.Set(ctx, key, []model.Message{{MessageID: "m1"}}, TTLMessages))

	mr.FastForward(TTLMessages + time.Second)

	var dest []model.Message
	err := cache.Get(ctx, key, &dest)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCacheNilClientFailsGracefully(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	var dest []model.Message
	assert.Error(t, cache.Get(ctx, "msgs:D_1", &dest))
	assert.Error(t, cache.Set(ctx, "msgs:D_1", dest, TTLMessages))
	assert.Error(t, cache.Delete(ctx, "msgs:D_1"))
}

func TestBuildCacheKey(t *testing.T) {
	assert.Equal(t, "msgs:D_000001", BuildCacheKey(CacheKeyMessages, "D_000001"))
	assert.Equal(t, "msg:abc", BuildCacheKey(CacheKeyMessage, "abc"))
}
