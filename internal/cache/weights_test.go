package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*WeightStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWeightStore(client, opts...), mr, client
}

func TestWeightStoreLatestEmpty(t *testing.T) {
	store, _, _ := newTestStore(t)
	snap, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestWeightStorePublishAndLatest(t *testing.T) {
	store, mr, _ := newTestStore(t, WithPrefix("test"))
	ctx := context.Background()
	idx := 0.4
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	require.NoError(t, store.Publish(ctx, WeightSnapshot{Mode: "dynamic", Version: 1, Weights: map[string]float64{"a": 0.25, "b": 0.75}, UpdatedAt: at}))
	require.NoError(t, store.Publish(ctx, WeightSnapshot{Mode: "diversity", Version: 2, Weights: map[string]float64{"a": 0.5, "b": 0.5}, DiversityIndex: &idx, UpdatedAt: at}))

	snap, err := store.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "diversity", snap.Mode)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, 0.5, snap.Weights["b"])
	require.NotNil(t, snap.DiversityIndex)
	assert.Equal(t, 0.4, *snap.DiversityIndex)
	assert.True(t, mr.Exists("test:latest"))

	history, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)
}

func TestWeightStoreHistoryIsCapped(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	for i := range historyLength + 5 {
		require.NoError(t, store.Publish(ctx, WeightSnapshot{Mode: "dynamic", Version: i}))
	}
	items, err := mr.List(defaultPrefix + ":history")
	require.NoError(t, err)
	assert.Len(t, items, historyLength)
}

func TestWeightStoreTTL(t *testing.T) {
	store, mr, _ := newTestStore(t, WithTTL(time.Minute))
	require.NoError(t, store.Publish(context.Background(), WeightSnapshot{Mode: "confidence"}))

	mr.FastForward(2 * time.Minute)
	snap, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestWeightStoreAnnouncesPublish(t *testing.T) {
	store, _, client := newTestStore(t)
	ctx := context.Background()
	sub := client.Subscribe(ctx, store.Channel())
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Publish(ctx, WeightSnapshot{Mode: "stacking", Version: 9}))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"version":9`)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published message")
	}
}

func TestWeightStoreCorruptSnapshot(t *testing.T) {
	store, mr, _ := newTestStore(t)
	require.NoError(t, mr.Set(defaultPrefix+":latest", "not json"))
	_, err := store.Latest(context.Background())
	assert.ErrorContains(t, err, "decode weight snapshot")
}
