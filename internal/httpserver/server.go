package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/tlsedge/internal/health"
	"github.com/keithlinneman/tlsedge/internal/httpmw"
	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/xerrors"
)

// NewHandler builds the public handler. Health routes are answered directly so
// plaintext load balancer checks are never redirected; every other request
// goes through the redirect stage and on to the upstream.
// main() owns the *http.Server lifecycle through Start.
func NewHandler(opts *Options) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(opts.MaxBodyBytes))

	// load balancers check over plaintext with GET or HEAD; neither is redirected
	healthRoutes := map[string]http.HandlerFunc{
		"/-/ping": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("pong\n"))
		},
		"/-/healthy": health.HealthzHandler(opts.Health),
		"/-/ready":   health.ReadyzHandler(opts.Readiness),
	}
	for path, h := range healthRoutes {
		r.Get(path, h)
		r.Head(path, h)
	}

	edge := edgeHandler(opts)
	r.Handle("/*", edge)
	r.NotFound(edge.ServeHTTP)
	r.MethodNotAllowed(edge.ServeHTTP)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isProbePath(r.URL.Path) }),
		// AnnotateHTTPRoute renames the span once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method }),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

func edgeHandler(opts *Options) http.Handler {
	next := opts.Upstream
	if next == nil {
		next = http.NotFoundHandler()
	}
	if opts.Redirector != nil {
		next = opts.Redirector.Middleware(next)
	}
	return httpmw.Scope("edge")(next)
}

func isProbePath(p string) bool {
	return p == "/-/healthy" || p == "/-/ready" || p == "/-/ping"
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// listenNetwork validates Options.Network. Plain tcp binds both families on
// one socket, which is why IPv4 clients can show up as ::ffff:a.b.c.d peers.
func listenNetwork(n string) (string, error) {
	switch n {
	case "":
		return "tcp", nil
	case "tcp", "tcp4", "tcp6":
		return n, nil
	}
	return "", xerrors.Newf("unsupported listen network %q (want tcp, tcp4 or tcp6)", n)
}

// Start listens and serves the public handler in the background.
// Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	network, err := listenNetwork(opts.Network)
	if err != nil {
		return nil, err
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	if opts.WriteTimeout > 0 {
		srv.WriteTimeout = opts.WriteTimeout
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, network, addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen %s %s", network, addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr, "network", network)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = xerrors.EnsureTrace(srv.Shutdown(c))
		})
		return retErr
	}
	return stop, nil
}
