// Package upstream forwards requests that were not redirected to the
// application behind the edge.
package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/tlsedge/internal/health"
	"github.com/keithlinneman/tlsedge/internal/httpmw"
	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/xerrors"
)

// Failure reasons reported to OnError. The set is fixed so it can be used as
// a metric label.
const (
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
	ReasonRefused  = "refused"
	ReasonOther    = "other"
)

type Options struct {
	// Target is the upstream base URL, http or https.
	Target string

	// Transport defaults to a clone of http.DefaultTransport wrapped with otelhttp.
	Transport http.RoundTripper

	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration

	// FlushInterval is passed to the reverse proxy; -1 flushes after every write.
	FlushInterval time.Duration

	// OnError is called with a Reason* constant for each failed proxy attempt.
	OnError func(reason string)
}

// Proxy is an http.Handler that reverse-proxies to a single upstream.
type Proxy struct {
	target      *url.URL
	rp          *httputil.ReverseProxy
	dialTimeout time.Duration
	onError     func(string)
}

func New(opts Options) (*Proxy, error) {
	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		target:      target,
		dialTimeout: opts.DialTimeout,
		onError:     opts.OnError,
	}
	if p.dialTimeout <= 0 {
		p.dialTimeout = 5 * time.Second
	}

	rt := opts.Transport
	if rt == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{Timeout: p.dialTimeout, KeepAlive: 30 * time.Second}).DialContext
		if opts.ResponseHeaderTimeout > 0 {
			base.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
		}
		rt = otelhttp.NewTransport(base)
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     rt,
		FlushInterval: opts.FlushInterval,
		ErrorHandler:  p.handleError,
	}
	return p, nil
}

// ParseTarget accepts an absolute http or https URL with a host.
func ParseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, xerrors.New("upstream url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse upstream url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Newf("upstream url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, xerrors.Newf("upstream url %q: missing host", raw)
	}
	return u, nil
}

func (p *Proxy) Target() *url.URL {
	u := *p.target
	return &u
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// rewrite keeps the client's Host and carries the forwarding chain. Any
// X-Forwarded-* still on the inbound request survived httpmw.ClientIP and is
// therefore trusted.
func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.Out.Host = pr.In.Host

	if prior := pr.In.Header.Values("X-Forwarded-For"); len(prior) > 0 {
		pr.Out.Header["X-Forwarded-For"] = append([]string(nil), prior...)
	}
	pr.SetXForwarded()
	pr.Out.Header.Set("X-Forwarded-Proto", httpmw.SchemeFromRequest(pr.In))
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reason := classify(err)
	ctx := r.Context()
	log.FromContext(ctx).Error(ctx, xerrors.Wrap(err, "proxy to upstream"), "upstream request failed",
		"upstream.reason", reason,
		"server.address", p.target.Host,
	)
	if p.onError != nil {
		p.onError(reason)
	}

	status := http.StatusBadGateway
	if reason == ReasonTimeout {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, http.StatusText(status), status)
}

func classify(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return ReasonTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonRefused
	}
	return ReasonOther
}

// Probe reports whether the upstream accepts TCP connections.
func (p *Proxy) Probe() health.CheckFunc {
	addr := p.target.Host
	if p.target.Port() == "" {
		port := "80"
		if p.target.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(p.target.Hostname(), port)
	}
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: p.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return xerrors.Wrapf(err, "upstream %s unreachable", addr)
		}
		return conn.Close()
	}
}
