package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartmark"

// Collector holds the process metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	RemoteCalls    *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec
	Refreshes      *prometheus.CounterVec
	Subscriptions  prometheus.Gauge
	LiveViews      prometheus.Gauge
	Rollbacks      prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Calls issued to the backend, by operation and outcome.",
		}, []string{"op", "status"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Backend call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Full list re-fetches, by outcome.",
		}, []string{"status"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Open change-feed subscriptions.",
		}),
		LiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_views",
			Help:      "Mounted list views.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_rollbacks_total",
			Help:      "Failed optimistic deletes reconciled by re-fetch.",
		}),
	}

	c.registry.MustRegister(
		c.RemoteCalls,
		c.RemoteDuration,
		c.Refreshes,
		c.Subscriptions,
		c.LiveViews,
		c.Rollbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRemote records one backend call.
func (c *Collector) ObserveRemote(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.RemoteCalls.WithLabelValues(op, status).Inc()
	c.RemoteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *Collector) ObserveRefresh(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.Refreshes.WithLabelValues("error").Inc()
		return
	}
	c.Refreshes.WithLabelValues("ok").Inc()
}

func (c *Collector) SubscriptionOpened() {
	if c != nil {
		c.Subscriptions.Inc()
	}
}

func (c *Collector) SubscriptionClosed() {
	if c != nil {
		c.Subscriptions.Dec()
	}
}

func (c *Collector) ViewMounted() {
	if c != nil {
		c.LiveViews.Inc()
	}
}

func (c *Collector) ViewUnmounted() {
	if c != nil {
		c.LiveViews.Dec()
	}
}

func (c *Collector) Rollback() {
	if c != nil {
		c.Rollbacks.Inc()
	}
}
