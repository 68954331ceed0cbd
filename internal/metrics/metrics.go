package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pool metrics
var (
	UnitsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolmgr_units_active",
			Help: "Number of active units in the pool",
		},
		[]string{"backend"},
	)

	Blocksize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolmgr_blocksize",
			Help: "Committed blocksize (active units / granularity)",
		},
		[]string{"backend"},
	)

	UnitsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolmgr_units_by_status",
			Help: "Active units by last reconciled status",
		},
		[]string{"backend", "status"},
	)

	ScaleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmgr_scale_events_total",
			Help: "Units started or stopped, by direction",
		},
		[]string{"backend", "direction"},
	)

	CapacityRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmgr_capacity_rejections_total",
			Help: "Scale-out and submit requests rejected at the capacity ceiling",
		},
		[]string{"backend", "operation"},
	)

	ProvisioningErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmgr_provisioning_errors_total",
			Help: "Backend failures during provisioning and teardown",
		},
		[]string{"backend", "step"},
	)

	GapFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmgr_gap_fills_total",
			Help: "Units reclassified as completed because the backend stopped reporting them",
		},
		[]string{"backend"},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolmgr_backend_call_duration_seconds",
			Help:    "Time spent in backend calls",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
		[]string{"backend", "operation"},
	)
)

// API metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmgr_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolmgr_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		UnitsActive,
		Blocksize,
		UnitsByStatus,
		ScaleEventsTotal,
		CapacityRejectionsTotal,
		ProvisioningErrorsTotal,
		GapFillsTotal,
		BackendCallDuration,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveBackendCall records the duration of a backend call started at start.
func ObserveBackendCall(backend, operation string, start time.Time) {
	BackendCallDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, c.Path()).
				Observe(time.Since(start).Seconds())

			return err
		}
	}
}
