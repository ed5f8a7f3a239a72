package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var layerLabel atomic.Value

func init() {
	layerLabel.Store("default")
}

// SetLayer sets the layer label attached to per-request metrics.
func SetLayer(s string) {
	if s == "" {
		s = "default"
	}
	layerLabel.Store(s)
}

func getLayer() string {
	if v := layerLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "layer"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "layer"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	transformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crs_transforms_total",
			Help: "Coordinate transforms by outcome (applied, identity, passthrough, unknown).",
		},
		[]string{"outcome"},
	)

	tileURLsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_urls_total",
			Help: "Tile URL renders by outcome.",
		},
		[]string{"outcome", "layer"},
	)

	compositeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_composite_duration_seconds",
			Help:    "Duration of a full highlight compositing pass.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"layer"},
	)

	compositeCellsPainted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_cells_painted_total",
			Help: "Grid cells painted with the highlight style.",
		},
		[]string{"layer"},
	)

	gridStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstore_op_total",
			Help: "Grid store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	gridStoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations issued by the grid store.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	gridLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_lookups_total",
			Help: "Grid lookups by tier (lru, redis, upstream) and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	upstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_grid_fetch_duration_seconds",
			Help:    "Latency of grid fetches against the tile server.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	tileEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_events_dropped_total",
			Help: "Tile request events dropped because the publish queue was full.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		transformsTotal,
		tileURLsTotal,
		compositeDurationSeconds,
		compositeCellsPainted,
		gridStoreOps,
		gridStoreOpDuration,
		gridLookups,
		upstreamFetchDuration,
		tileEventsDropped,
	}
}

// Init registers the collectors on reg in addition to the default registry.
// Registering twice on the same registry is a no-op. Build info stays on the
// default registry; metrics.Provider exposes its own.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	l := getLayer()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, l).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, l).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func IncTransform(outcome string) {
	transformsTotal.WithLabelValues(outcome).Inc()
}

func IncTileURL(outcome string) {
	tileURLsTotal.WithLabelValues(outcome, getLayer()).Inc()
}

func ObserveComposite(durationSeconds float64, painted int) {
	l := getLayer()
	compositeDurationSeconds.WithLabelValues(l).Observe(durationSeconds)
	if painted > 0 {
		compositeCellsPainted.WithLabelValues(l).Add(float64(painted))
	}
}

// ObserveGridStoreOp records one redis round trip made by the grid store.
func ObserveGridStoreOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gridStoreOps.WithLabelValues(op, result).Inc()
	gridStoreOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncGridLookup(tier, outcome string) {
	gridLookups.WithLabelValues(tier, outcome).Inc()
}

// ObserveUpstreamFetch records one tile server round trip; outcome is ok,
// not_found or error.
func ObserveUpstreamFetch(outcome string, durationSeconds float64) {
	upstreamFetchDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncTileEventDropped() {
	tileEventsDropped.Inc()
}
