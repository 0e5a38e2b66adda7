package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"amethyst/internal/cache"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/api/:module/:entity", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/:module/:entity", 200, 20*time.Millisecond)
	m.RecordRequest("POST", "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/:module/:entity", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "unmatched", "404")))
}

func TestCacheCounters(t *testing.T) {
	m := New()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordHookFailure("saved")
	m.RecordReload(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.responseCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.responseCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookFailures.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("ok")))
}

func TestHandler(t *testing.T) {
	m := New()
	c := cache.New(10, 0)
	c.Set("a", 1)
	_, _ = c.Get("a")
	m.WatchCache("relations", c.Metrics)
	m.RecordCacheHit()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `amethyst_response_cache_total{result="hit"} 1`)
	assert.Contains(t, string(body), `amethyst_cache_hits{cache="relations"} 1`)
	assert.Contains(t, string(body), `amethyst_cache_keys{cache="relations"} 1`)
}

func TestNew_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
