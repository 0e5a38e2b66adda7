package metrics

import (
	"net/http"
	"strconv"
	"time"

	"amethyst/internal/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics: счётчики HTTP-слоя и кэшей. Свой реестр на экземпляр,
// чтобы несколько серверов в одном процессе не конфликтовали.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseCache   *prometheus.CounterVec
	hookFailures    *prometheus.CounterVec
	reloads         *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amethyst_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amethyst_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method", "route"},
		),
		responseCache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amethyst_response_cache_total",
				Help: "Response cache lookups by result (hit|miss)",
			},
			[]string{"result"},
		),
		hookFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amethyst_hook_failures_total",
				Help: "Total number of failed hook chains",
			},
			[]string{"hook"},
		),
		reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amethyst_schema_reloads_total",
				Help: "Schema reloads by result (ok|error)",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit()  { m.responseCache.WithLabelValues("hit").Inc() }
func (m *Metrics) RecordCacheMiss() { m.responseCache.WithLabelValues("miss").Inc() }

func (m *Metrics) RecordHookFailure(hook string) { m.hookFailures.WithLabelValues(hook).Inc() }

func (m *Metrics) RecordReload(err error) {
	if err != nil {
		m.reloads.WithLabelValues("error").Inc()
		return
	}
	m.reloads.WithLabelValues("ok").Inc()
}

// WatchCache публикует статистику LRU (кэш отношений схемы) как gauge-функции.
// source вызывается при каждом scrape, поэтому переживает перезагрузку схемы.
func (m *Metrics) WatchCache(name string, source func() cache.Metrics) {
	labels := prometheus.Labels{"cache": name}
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "amethyst_cache_hits",
		Help:        "Cache hits since the cache was created",
		ConstLabels: labels,
	}, func() float64 { return float64(source().Hits) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "amethyst_cache_misses",
		Help:        "Cache misses since the cache was created",
		ConstLabels: labels,
	}, func() float64 { return float64(source().Misses) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "amethyst_cache_hit_rate",
		Help:        "Current cache hit rate (0.0 to 1.0)",
		ConstLabels: labels,
	}, func() float64 { return source().HitRate() })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "amethyst_cache_keys",
		Help:        "Current number of keys in the cache",
		ConstLabels: labels,
	}, func() float64 { return float64(source().Len) })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
