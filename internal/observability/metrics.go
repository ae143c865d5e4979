package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	apiInflight  prometheus.Gauge
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	stageLatency *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	events       *prometheus.CounterVec
	subscribers  prometheus.Gauge
	taskDepth    *prometheus.GaugeVec
	pgStats      *prometheus.GaugeVec
	redisUp      prometheus.Gauge
	redisPing    prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

// Current returns the process metrics, or nil when metrics are disabled.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sf_api_requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sf_api_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sf_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sf_model_calls_total",
			Help: "Model provider calls by kind, model and outcome.",
		}, []string{"kind", "model", "status"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sf_model_call_duration_seconds",
			Help:    "Model provider call latency including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"kind", "model"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sf_generation_stage_duration_seconds",
			Help:    "Generation stage latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320, 640},
		}, []string{"stage", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sf_generation_runs_total",
			Help: "Finished generation runs by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sf_events_published_total",
			Help: "Events published on the generation bus by type.",
		}, []string{"type"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sf_event_subscribers",
			Help: "Live event stream subscribers.",
		}),
		taskDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sf_generation_tasks",
			Help: "Generation tasks by status.",
		}, []string{"status"}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sf_db_pool",
			Help: "Database pool statistics.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sf_redis_up",
			Help: "1 when the last Redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sf_redis_ping_seconds",
			Help: "Latency of the last Redis ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.modelCalls, m.modelLatency, m.stageLatency, m.runs,
		m.events, m.subscribers, m.taskDepth, m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveModelCall(kind, model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(kind, model, status).Inc()
	m.modelLatency.WithLabelValues(kind, model).Observe(dur.Seconds())
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage, status).Observe(dur.Seconds())
}

func (m *Metrics) IncRun(outcome string) {
	if m != nil {
		m.runs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncEvent(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) AddSubscribers(delta int) {
	if m != nil {
		m.subscribers.Add(float64(delta))
	}
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 15*time.Second)
}

// StartDBCollector samples pool stats and task counts by status.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sqlDB, err := db.DB(); err == nil {
					stats := sqlDB.Stats()
					m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
					m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
					m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
					m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Table("generation_tasks").
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: task depth query failed", "error", err)
					}
					continue
				}
				m.taskDepth.Reset()
				for _, r := range rows {
					m.taskDepth.WithLabelValues(r.Status).Set(float64(r.Count))
				}
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
