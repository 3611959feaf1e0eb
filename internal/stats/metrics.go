package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotSource is anything that can produce a snapshot.
type SnapshotSource interface {
	Snapshot() Snapshot
}

var (
	fetchedDesc = prometheus.NewDesc(
		"marketpan_items_fetched_total",
		"New items fetched, by source type.",
		[]string{"kind"}, nil,
	)
	forwardedDesc = prometheus.NewDesc(
		"marketpan_items_forwarded_total",
		"Items forwarded to the chat, by source type.",
		[]string{"kind"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"marketpan_errors_total",
		"Fetch, classification and delivery errors, by source type.",
		[]string{"kind"}, nil,
	)
	lastPollDesc = prometheus.NewDesc(
		"marketpan_last_poll_timestamp_seconds",
		"Unix time of the last completed poll, by source type.",
		[]string{"kind"}, nil,
	)
	startDesc = prometheus.NewDesc(
		"marketpan_start_time_seconds",
		"Unix time the process started polling.",
		nil, nil,
	)
)

// collector exports a snapshot on every scrape.
type collector struct {
	src SnapshotSource
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- fetchedDesc
	ch <- forwardedDesc
	ch <- errorsDesc
	ch <- lastPollDesc
	ch <- startDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	ch <- prometheus.MustNewConstMetric(startDesc, prometheus.GaugeValue, unixSeconds(s.StartedAt))
	for _, kind := range s.KindNames() {
		ks := s.Kinds[kind]
		ch <- prometheus.MustNewConstMetric(fetchedDesc, prometheus.CounterValue, float64(ks.Fetched), kind)
		ch <- prometheus.MustNewConstMetric(forwardedDesc, prometheus.CounterValue, float64(ks.Forwarded), kind)
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(ks.Errors), kind)
		if !ks.LastPoll.IsZero() {
			ch <- prometheus.MustNewConstMetric(lastPollDesc, prometheus.GaugeValue, unixSeconds(ks.LastPoll), kind)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// Exporter serves tracker snapshots and cycle timings in the Prometheus
// exposition format.
type Exporter struct {
	registry      *prometheus.Registry
	cycleDuration prometheus.Histogram
}

// NewExporter registers a collector for src on a private registry.
func NewExporter(src SnapshotSource) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector{src: src})
	return &Exporter{
		registry: reg,
		cycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpan_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// ObserveCycle records the duration of one poll cycle.
func (e *Exporter) ObserveCycle(d time.Duration) {
	e.cycleDuration.Observe(d.Seconds())
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
