package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("key1", "value1")
	v, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", v)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.InDelta(t, 0.5, m.HitRate(), 0.0001)
}

func TestCache_TTLExpiration(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetWithTTL("key1", 1, 50*time.Millisecond)
	_, ok := c.Get("key1")
	assert.True(t, ok)

	now = now.Add(100 * time.Millisecond)
	_, ok = c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_NoTTL(t *testing.T) {
	c := New(0, 0)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = now.Add(24 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	// "a" становится самым свежим
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b must be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Metrics().Evicted)
}

func TestCache_UpdateDeleteClear(t *testing.T) {
	c := New(10, 0)
	c.Set("a", 1)
	c.Set("a", 2)
	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("x", 1)
	c.Set("y", 1)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryResponseStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryResponseStore(10)

	_, ok, err := s.Get(ctx, "GET /x")
	require.NoError(t, err)
	assert.False(t, ok)

	resp := &Response{Status: http.StatusOK, Body: []byte(`[]`)}
	gen, err := s.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "GET /x", resp, time.Minute, gen))

	got, ok, err := s.Get(ctx, "GET /x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resp, got)

	require.NoError(t, s.Clear(ctx))
	_, ok, _ = s.Get(ctx, "GET /x")
	assert.False(t, ok)
}

func TestMemoryResponseStore_StaleGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryResponseStore(10)

	before, err := s.Generation(ctx)
	require.NoError(t, err)

	// запись случилась, пока ответ собирался
	require.NoError(t, s.Clear(ctx))
	after, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	require.NoError(t, s.Set(ctx, "k", &Response{Status: http.StatusOK}, 0, before))
	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok, "response built before Clear must not be stored")

	require.NoError(t, s.Set(ctx, "k", &Response{Status: http.StatusOK}, 0, after))
	_, ok, _ = s.Get(ctx, "k")
	assert.True(t, ok)
}

func TestRedisKeys_ShareHashTag(t *testing.T) {
	s := NewRedisResponseStore(nil, "app:resp:")
	assert.Equal(t, "{app:resp:}gen", s.genKey())
	assert.Equal(t, "{app:resp:}r:u1|/api/x?y=[1]", s.entryKey("u1|/api/x?y=[1]"))
	assert.Equal(t, `a\*b\?c\[d\]`, globEscape("a*b?c[d]"))
}

func TestResponseCodec(t *testing.T) {
	in := &Response{
		Status: http.StatusOK,
		Header: map[string][]string{"Content-Type": {"application/json"}, "X-Total-Count": {"2"}},
		Body:   []byte(`[{"id":"1"},{"id":"2"}]`),
	}
	raw, err := EncodeResponse(in)
	require.NoError(t, err)

	out, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeResponse([]byte{0xc1})
	assert.Error(t, err)
}
