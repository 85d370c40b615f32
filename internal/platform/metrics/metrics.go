// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_http_requests_total",
			Help: "Total number of HTTP requests by method, route, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "care_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "care_http_requests_in_flight",
		Help: "Current number of HTTP requests being processed.",
	})

	middlewareRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_middleware_requests_total",
			Help: "Outbound middleware requests by method and upstream status (\"error\" for transport failures).",
		},
		[]string{"method", "status"},
	)

	middlewareRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "care_middleware_request_duration_seconds",
			Help:    "Outbound middleware request latency in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		},
		[]string{"method"},
	)

	configSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_config_sync_total",
			Help: "Asset configuration sync operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "care_availability_sweep_duration_seconds",
			Help:    "Wall time of availability sweeps.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	availabilityAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_availability_records_appended_total",
			Help: "Availability state changes recorded, by subject kind and status.",
		},
		[]string{"kind", "status"},
	)
)

// AssetCounter is the subset of the asset store needed to report inventory.
type AssetCounter interface {
	CountByClass(ctx context.Context) (map[string]int, error)
}

// assetCollector queries the database on each scrape to report asset counts
// broken down by class.
type assetCollector struct {
	store      AssetCounter
	assetsDesc *prometheus.Desc
}

func (c *assetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.assetsDesc
}

func (c *assetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := c.store.CountByClass(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.assetsDesc, err)
		return
	}
	for class, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.assetsDesc, prometheus.GaugeValue, float64(n), class)
	}
}

// Register adds every collector to reg. assets may be nil.
func Register(reg prometheus.Registerer, assets AssetCounter) error {
	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDuration,
		httpRequestsInFlight,
		middlewareRequestsTotal,
		middlewareRequestDuration,
		configSyncTotal,
		sweepDuration,
		availabilityAppended,
	}
	if assets != nil {
		cs = append(cs, &assetCollector{
			store: assets,
			assetsDesc: prometheus.NewDesc(
				"care_assets_total",
				"Number of non-deleted assets, partitioned by asset class.",
				[]string{"asset_class"},
				nil,
			),
		})
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func HTTPStarted()  { httpRequestsInFlight.Inc() }
func HTTPFinished() { httpRequestsInFlight.Dec() }

// ObserveHTTP records one served request. path must be the route pattern.
func ObserveHTTP(method, path string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveMiddlewareCall records one outbound call. status 0 means the call
// failed before a response arrived.
func ObserveMiddlewareCall(method string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	middlewareRequestsTotal.WithLabelValues(method, label).Inc()
	middlewareRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func IncConfigSync(operation, outcome string) {
	configSyncTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveSweep(kind string, d time.Duration) {
	sweepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func IncAvailabilityAppended(kind, status string) {
	availabilityAppended.WithLabelValues(kind, status).Inc()
}
