package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/tlsedge/internal/cfg"
	"github.com/keithlinneman/tlsedge/internal/health"
	"github.com/keithlinneman/tlsedge/internal/httpmw"
	"github.com/keithlinneman/tlsedge/internal/httpserver"
	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/metrics"
	"github.com/keithlinneman/tlsedge/internal/opshttp"
	"github.com/keithlinneman/tlsedge/internal/otelx"
	"github.com/keithlinneman/tlsedge/internal/policy"
	"github.com/keithlinneman/tlsedge/internal/prof"
	"github.com/keithlinneman/tlsedge/internal/ratelimit"
	"github.com/keithlinneman/tlsedge/internal/redirect"
	"github.com/keithlinneman/tlsedge/internal/upstream"
	v "github.com/keithlinneman/tlsedge/internal/version"
)

const (
	appName   = "tlsedge"
	component = "edge"
)

// policyView is what /-/policy on the admin port reports.
type policyView struct {
	Source    string    `json:"source"`
	Protocols string    `json:"protocols"`
	Port      int       `json:"port,omitempty"`
	Status    int       `json:"status"`
	HSTS      string    `json:"hsts,omitempty"`
	Upstream  string    `json:"upstream"`
	LoadedAt  time.Time `json:"loaded_at"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               appName,
		Component:         component,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application", append(vi.LogFields(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"listen_network", conf.ListenNetwork,
		"upstream_url", conf.UpstreamURL,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"redirect_protocols", conf.RedirectProtocols,
		"redirect_port", conf.RedirectPort,
		"redirect_status", conf.RedirectStatus,
		"enable_hsts", conf.EnableHSTS,
		"policy_source", conf.PolicySource,
		"enable_rate_limit", conf.EnableRateLimit,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)...)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, &vi)

	// Profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Tracing. Insecure because the collector is on localhost.
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Transport security policy: flags, optionally replaced by a document
	rdOpts, policySource, err := loadPolicy(ctx, conf)
	if err != nil {
		// an operator asked for a specific policy, do not serve with a different one
		L.Error(ctx, err, "failed to load transport security policy", "policy_source", conf.PolicySource)
		os.Exit(1)
	}
	rdOpts.Scheme = httpmw.SchemeFromRequest
	rdOpts.ClientAddr = httpmw.ClientAddrFromRequest
	rdOpts.OnRedirect = func(f redirect.Family) { m.IncRedirect(f.String()) }
	rdOpts.OnMissingHost = m.IncRedirectMissingHost

	rd, err := redirect.New(rdOpts)
	if err != nil {
		L.Error(ctx, err, "invalid transport security policy", "policy_source", policySource)
		os.Exit(1)
	}
	loadedAt := time.Now()
	m.SetPolicy(policySource, rdOpts.Protocols.String(), rd.HSTSValue(), loadedAt)
	L.Info(ctx, "transport security policy active",
		"policy_source", policySource,
		"redirect_protocols", rdOpts.Protocols.String(),
		"redirect_port", rdOpts.Port,
		"hsts", rd.HSTSValue(),
	)

	// Upstream
	proxy, err := upstream.New(upstream.Options{
		Target:                conf.UpstreamURL,
		ResponseHeaderTimeout: conf.UpstreamTimeout,
		OnError:               m.IncUpstreamError,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create upstream proxy")
		os.Exit(1)
	}

	var gate health.ShutdownGate

	// ready only while not draining and the upstream accepts connections
	readiness := health.All(
		gate.Probe(),
		health.Timeout(proxy.Probe(), 2*time.Second),
	)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithMaxVisitors(conf.RateLimitMaxVisitors),
			ratelimit.WithOnDenied(func(string) {
				m.IncRateLimitDenied()
			}),
			// logged once per client until its entry is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "client.address", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	edgeStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Network:      conf.ListenNetwork,
		Redirector:   rd,
		Upstream:     proxy,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		MaxBodyBytes: conf.MaxBodyBytes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start edge http listener")
		os.Exit(1)
	}
	defer func() { _ = edgeStop(context.Background()) }()

	// admin listener: metrics, probes, pprof and the live policy. It refuses
	// public peers on its own in case the network rules are ever loosened.
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		Policy: policyView{
			Source:    policySource,
			Protocols: rdOpts.Protocols.String(),
			Port:      rdOpts.Port,
			Status:    effectiveStatus(rdOpts.Status),
			HSTS:      rd.HSTSValue(),
			Upstream:  proxy.Target().Redacted(),
			LoadedAt:  loadedAt.UTC(),
		},
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain", conf.ShutdownDrain)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := edgeStop(shutdownCtx); err != nil {
		L.Error(bg, err, "edge http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// loadPolicy returns the flag-derived redirect options, replaced by the
// policy document when one is configured, and a label for where they came from.
func loadPolicy(ctx context.Context, conf cfg.App) (redirect.Options, string, error) {
	base, err := conf.RedirectPolicy()
	if err != nil {
		return redirect.Options{}, "", err
	}
	if conf.PolicySource == "" {
		return base, "flags", nil
	}

	src, err := policy.ParseSource(conf.PolicySource)
	if err != nil {
		return redirect.Options{}, "", err
	}

	var clients policy.Clients
	if src.NeedsAWS() {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return redirect.Options{}, "", fmt.Errorf("load AWS config: %w", err)
		}
		clients = policy.NewClients(awsCfg)
	}

	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	doc, err := policy.Load(loadCtx, src, clients)
	if err != nil {
		return redirect.Options{}, "", err
	}
	opts, err := doc.Apply(base)
	if err != nil {
		return redirect.Options{}, "", err
	}
	return opts, src.String(), nil
}

func effectiveStatus(s int) int {
	if s == 0 {
		return redirect.DefaultStatus
	}
	return s
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
