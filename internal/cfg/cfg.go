package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/policy"
	"github.com/keithlinneman/tlsedge/internal/redirect"
	"github.com/keithlinneman/tlsedge/internal/upstream"
)

// EnvPrefix is prepended to upper-cased flag names for FillFromEnv.
const EnvPrefix = "TLSEDGE_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort      int
	AdminPort     int
	ListenNetwork string
	ShutdownDrain time.Duration

	UpstreamURL     string
	UpstreamTimeout time.Duration

	TrustedProxyHops int
	MaxBodyBytes     int64

	EnableRateLimit      bool
	RateLimitRPS         float64
	RateLimitBurst       int
	RateLimitMaxVisitors int

	RedirectProtocols string
	RedirectPort      int
	RedirectStatus    int

	EnableHSTS            bool
	HSTSMaxAge            int64
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	PolicySource string

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.ListenNetwork, "listen-network", "tcp", "tcp (dual stack), tcp4 or tcp6")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 5*time.Second, "how long to report not-ready before closing listeners")

	fs.StringVar(&c.UpstreamURL, "upstream-url", "", "application base URL that non-redirected requests are proxied to")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 30*time.Second, "time to wait for upstream response headers")

	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of this server whose X-Forwarded-For/Proto are trusted (0..16)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 32<<20, "max request body size forwarded upstream, 0 for unlimited")

	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "Enable per-client rate limiting on the public listener")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-client sustained requests per second")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-client burst size")
	fs.IntVar(&c.RateLimitMaxVisitors, "rate-limit-max-visitors", 100000, "max tracked clients, 0 for unbounded")

	fs.StringVar(&c.RedirectProtocols, "redirect-protocols", "none", "client address families redirected to https: none|ipv4|ipv6|both")
	fs.IntVar(&c.RedirectPort, "redirect-port", 0, "https port in redirect targets, 0 to omit")
	fs.IntVar(&c.RedirectStatus, "redirect-status", redirect.DefaultStatus, "redirect status code: 301|302|303|307|308")

	fs.BoolVar(&c.EnableHSTS, "enable-hsts", false, "Send Strict-Transport-Security on every proxied or redirected response")
	fs.Int64Var(&c.HSTSMaxAge, "hsts-max-age", int64(redirect.DefaultHSTSMaxAge/time.Second), "HSTS max-age in seconds")
	fs.BoolVar(&c.HSTSIncludeSubdomains, "hsts-include-subdomains", false, "add includeSubDomains to HSTS")
	fs.BoolVar(&c.HSTSPreload, "hsts-preload", false, "add preload to HSTS")

	fs.StringVar(&c.PolicySource, "policy-source", "", "policy document replacing the redirect/hsts flags: file:///path, ssm:///param or s3://bucket/key")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// HSTSPolicy returns the flag-derived HSTS policy, nil when disabled.
func (c App) HSTSPolicy() *redirect.HSTS {
	if !c.EnableHSTS {
		return nil
	}
	return &redirect.HSTS{
		MaxAge:            time.Duration(c.HSTSMaxAge) * time.Second,
		IncludeSubDomains: c.HSTSIncludeSubdomains,
		Preload:           c.HSTSPreload,
	}
}

// RedirectPolicy returns the flag-derived redirect options. Scheme, client
// address and hooks are left for the caller to fill in.
func (c App) RedirectPolicy() (redirect.Options, error) {
	p, err := redirect.ParseProtocols(c.RedirectProtocols)
	if err != nil {
		return redirect.Options{}, err
	}
	return redirect.Options{
		Protocols: p,
		Port:      c.RedirectPort,
		Status:    c.RedirectStatus,
		HSTS:      c.HSTSPolicy(),
	}, nil
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	switch c.ListenNetwork {
	case "tcp", "tcp4", "tcp6":
	default:
		errs = append(errs, fmt.Errorf("invalid LISTEN_NETWORK %q (must be tcp, tcp4 or tcp6)", c.ListenNetwork))
	}
	if c.ShutdownDrain < 0 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_DRAIN %s (must not be negative)", c.ShutdownDrain))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Upstream
	if _, err := upstream.ParseTarget(c.UpstreamURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid UPSTREAM_URL: %w", err))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid UPSTREAM_TIMEOUT %s (must be positive)", c.UpstreamTimeout))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 16 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXY_HOPS %d (must be 0..16)", c.TrustedProxyHops))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must not be negative)", c.MaxBodyBytes))
	}

	// Rate limit
	if c.EnableRateLimit {
		if c.RateLimitRPS <= 0 {
			errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_RPS %g (must be positive)", c.RateLimitRPS))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_BURST %d (must be at least 1)", c.RateLimitBurst))
		}
		if c.RateLimitMaxVisitors < 0 {
			errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX_VISITORS %d (must not be negative)", c.RateLimitMaxVisitors))
		}
	}

	// Transport security policy, built the same way main builds it
	if c.HSTSMaxAge > math.MaxInt64/int64(time.Second) {
		errs = append(errs, fmt.Errorf("invalid HSTS_MAX_AGE %d (too large)", c.HSTSMaxAge))
	}
	if opts, err := c.RedirectPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("invalid REDIRECT_PROTOCOLS: %w", err))
	} else if _, err := redirect.New(opts); err != nil {
		errs = append(errs, fmt.Errorf("invalid redirect/hsts settings: %w", err))
	}
	if c.PolicySource != "" {
		if _, err := policy.ParseSource(c.PolicySource); err != nil {
			errs = append(errs, fmt.Errorf("invalid POLICY_SOURCE: %w", err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
