package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/tlsedge/internal/version"
)

// ServerMetrics owns a private registry for the edge server. Labels are kept
// to bounded sets (method, route pattern, status, address family).
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	redirectsTotal           *prometheus.CounterVec
	redirectMissingHostTotal prometheus.Counter
	upstreamErrorsTotal      *prometheus.CounterVec
	policyInfo               *prometheus.GaugeVec
	policyLoadedTimestamp    prometheus.Gauge

	profilingActive prometheus.Gauge
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total times the rate limiter visitor table was full",
		}),
		redirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tls_redirects_total",
			Help: "Plaintext requests redirected to https, by client address family",
		}, []string{"family"}),
		redirectMissingHostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tls_redirect_missing_host_total",
			Help: "Requests that qualified for a redirect but had no Host and were forwarded",
		}),
		upstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Proxy failures talking to the upstream, by reason",
		}, []string{"reason"}),
		policyInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tls_policy_info",
			Help: "Active transport security policy (labels carry the values, gauge is always 1)",
		}, []string{"source", "protocols", "hsts"}),
		policyLoadedTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tls_policy_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the active policy was loaded",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.redirectsTotal,
		m.redirectMissingHostTotal,
		m.upstreamErrorsTotal,
		m.policyInfo,
		m.policyLoadedTimestamp,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

// IncRedirect counts one redirect. family is ipv4, ipv6 or unknown.
func (m *ServerMetrics) IncRedirect(family string) {
	m.redirectsTotal.WithLabelValues(family).Inc()
}

func (m *ServerMetrics) IncRedirectMissingHost() {
	m.redirectMissingHostTotal.Inc()
}

// IncUpstreamError counts a failed proxy attempt. reason must come from a
// fixed set (timeout, canceled, refused, other).
func (m *ServerMetrics) IncUpstreamError(reason string) {
	m.upstreamErrorsTotal.WithLabelValues(reason).Inc()
}

// SetPolicy records the active policy, replacing any previous one.
func (m *ServerMetrics) SetPolicy(source, protocols, hsts string, loadedAt time.Time) {
	if hsts == "" {
		hsts = "off"
	}
	m.policyInfo.Reset()
	m.policyInfo.WithLabelValues(source, protocols, hsts).Set(1)
	m.policyLoadedTimestamp.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
