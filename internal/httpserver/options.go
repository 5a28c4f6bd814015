package httpserver

import (
	"net/http"
	"time"

	"github.com/keithlinneman/tlsedge/internal/health"
	"github.com/keithlinneman/tlsedge/internal/httpmw"
	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/redirect"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Network is tcp (dual stack, the default), tcp4 or tcp6.
	Network string

	// Redirector wraps Upstream for every path except the health routes.
	// nil forwards everything to Upstream unchanged.
	Redirector *redirect.Redirector

	// Upstream serves forwarded requests. nil answers 404.
	Upstream http.Handler

	Health    health.Probe
	Readiness health.Probe

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies; 0 disables the cap.
	MaxBodyBytes int64

	UseRecoverMW bool
	OnPanic      func()

	// WriteTimeout bounds a whole proxied response; 0 uses DefaultWriteTimeout.
	WriteTimeout time.Duration
}
