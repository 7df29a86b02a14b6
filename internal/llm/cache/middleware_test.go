package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

// memStore is an in-process Store.
type memStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) *redis.StringCmd {
	if m.failGet {
		return redis.NewStringResult("", errors.New("connection reset"))
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.data[key] = value.([]byte)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func counting(calls *int) transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		*calls++
		return &transport.Response{Content: "reply to " + req.Messages[0].Parts[0].Text}, nil
	})
}

func request(text string) *transport.Request {
	return &transport.Request{
		Provider: "openai",
		Model:    "m",
		Messages: []transport.Message{{Role: transport.RoleUser, Parts: []transport.Part{transport.TextPart(text)}}},
	}
}

func TestCache(t *testing.T) {
	store := newMemStore()
	var hits []bool
	cfg := configuration.CacheConfig{Enabled: true, TTL: time.Hour, KeyPrefix: "test"}
	mw := NewCacheMiddlewareWithRedis(context.Background(), cfg, store, WithObserver(func(hit bool) { hits = append(hits, hit) }))

	var calls int
	h := mw(counting(&calls))

	first, err := h.Handle(context.Background(), request("a"))
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), request("a"))
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), request("b"))
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "the repeated request is served from cache")
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, []bool{false, true, false}, hits)
	for k, ttl := range store.ttls {
		assert.Contains(t, k, "test:")
		assert.Equal(t, time.Hour, ttl)
	}

	timed := request("a")
	timed.Timeout = time.Minute
	timed.TraceID = "trace"
	_, err = h.Handle(context.Background(), timed)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "control fields are not part of the key")
}

func TestCache_Degrades(t *testing.T) {
	t.Run("store errors bypass the cache", func(t *testing.T) {
		store := newMemStore()
		store.failGet = true
		var calls int
		h := NewCacheMiddlewareWithRedis(context.Background(), configuration.CacheConfig{Enabled: true}, store)(counting(&calls))

		for i := 0; i < 2; i++ {
			_, err := h.Handle(context.Background(), request("a"))
			require.NoError(t, err)
		}
		assert.Equal(t, 2, calls)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		store := newMemStore()
		failing := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
			return nil, errors.New("boom")
		})
		h := NewCacheMiddlewareWithRedis(context.Background(), configuration.CacheConfig{Enabled: true}, store)(failing)

		_, err := h.Handle(context.Background(), request("a"))
		require.Error(t, err)
		assert.Empty(t, store.data)
	})

	t.Run("corrupt entries are ignored", func(t *testing.T) {
		store := newMemStore()
		var calls int
		h := NewCacheMiddlewareWithRedis(context.Background(), configuration.CacheConfig{Enabled: true}, store)(counting(&calls))
		_, err := h.Handle(context.Background(), request("a"))
		require.NoError(t, err)
		for k := range store.data {
			store.data[k] = []byte("not json")
		}

		resp, err := h.Handle(context.Background(), request("a"))
		require.NoError(t, err)
		assert.Equal(t, "reply to a", resp.Content)
		assert.Equal(t, 2, calls)
	})
}
