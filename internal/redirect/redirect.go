package redirect

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/tlsedge/internal/log"
)

// DefaultStatus preserves the request method and body across the redirect.
const DefaultStatus = http.StatusTemporaryRedirect

type Options struct {
	// Protocols selects which client address families get redirected.
	Protocols Protocols

	// HSTS is applied to every response when non-nil.
	HSTS *HSTS

	// Port replaces the port of the redirect target; 0 omits the port.
	Port int

	// Status is the redirect status code, one of 301, 302, 303, 307, 308. 0 means 307.
	Status int

	// Scheme reports the scheme the request arrived with. The returned value is
	// trusted as-is, so any forwarded-header handling must happen upstream.
	// Defaults to https when the connection is TLS, http otherwise.
	Scheme func(*http.Request) string

	// ClientAddr returns the address to classify, as "ip" or "ip:port".
	// Defaults to the connection peer (r.RemoteAddr).
	ClientAddr func(*http.Request) string

	// OnRedirect is called for each redirected request with the client family.
	OnRedirect func(Family)

	// OnMissingHost is called when a request would be redirected but has no host.
	OnMissingHost func()
}

// Redirector is the https redirect + HSTS stage. It is immutable after New
// and safe to share between concurrent requests.
type Redirector struct {
	protocols     Protocols
	hstsValue     string
	port          int
	status        int
	scheme        func(*http.Request) string
	clientAddr    func(*http.Request) string
	onRedirect    func(Family)
	onMissingHost func()
}

// New validates opts and builds the stage. All returned errors wrap ErrConfig.
func New(opts Options) (*Redirector, error) {
	if opts.Protocols > ProtocolsBoth {
		return nil, fmt.Errorf("%w: unknown redirect protocols %d", ErrConfig, opts.Protocols)
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: redirect port %d (must be 1..65535, or 0 for none)", ErrConfig, opts.Port)
	}

	status := opts.Status
	if status == 0 {
		status = DefaultStatus
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: redirect status %d (must be 301, 302, 303, 307 or 308)", ErrConfig, status)
	}

	rd := &Redirector{
		protocols:     opts.Protocols,
		port:          opts.Port,
		status:        status,
		scheme:        opts.Scheme,
		clientAddr:    opts.ClientAddr,
		onRedirect:    opts.OnRedirect,
		onMissingHost: opts.OnMissingHost,
	}
	if rd.scheme == nil {
		rd.scheme = tlsScheme
	}
	if rd.clientAddr == nil {
		rd.clientAddr = peerAddr
	}

	// encode once so nothing can fail per request
	if opts.HSTS != nil {
		v, err := opts.HSTS.HeaderValue()
		if err != nil {
			return nil, err
		}
		rd.hstsValue = v
	}
	return rd, nil
}

func validStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func peerAddr(r *http.Request) string { return r.RemoteAddr }

func tlsScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// HSTSValue returns the header value applied to responses, "" when disabled.
func (rd *Redirector) HSTSValue() string { return rd.hstsValue }

// Middleware redirects plaintext requests from the configured address families
// to https and forwards everything else to next. The HSTS header, if
// configured, is set on whichever response results, replacing any value next set.
func (rd *Redirector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hw *hstsWriter
		if rd.hstsValue != "" {
			hw = &hstsWriter{ResponseWriter: w, value: rd.hstsValue}
			w = hw
		}

		if target, fam, ok := rd.decide(r); ok {
			rd.redirect(w, r, target, fam)
		} else {
			next.ServeHTTP(w, r)
		}

		if hw != nil {
			hw.finish()
		}
	})
}

// decide returns the redirect target when the request must be redirected.
func (rd *Redirector) decide(r *http.Request) (string, Family, bool) {
	if rd.protocols == ProtocolsNone {
		return "", FamilyUnknown, false
	}

	fam := Classify(rd.clientAddr(r))
	if !ShouldRedirect(rd.protocols, fam, rd.scheme(r)) {
		return "", fam, false
	}

	// asterisk-form targets (OPTIONS *) have no https equivalent
	if p := r.URL.EscapedPath(); p != "" && !strings.HasPrefix(p, "/") {
		return "", fam, false
	}

	host := hostname(r.Host)
	if host == "" {
		ctx := r.Context()
		log.FromContext(ctx).Warn(ctx, "not redirecting to https, forwarding instead",
			"error", ErrMissingHost,
			"client.address.family", fam.String(),
		)
		if rd.onMissingHost != nil {
			rd.onMissingHost()
		}
		return "", fam, false
	}
	return rd.location(host, r.URL), fam, true
}

func (rd *Redirector) redirect(w http.ResponseWriter, r *http.Request, target string, fam Family) {
	ctx := r.Context()
	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		span.SetAttributes(
			attribute.Bool("tls.redirect", true),
			attribute.String("client.address.family", fam.String()),
		)
	}
	log.FromContext(ctx).Debug(ctx, "redirecting to https",
		"client.address.family", fam.String(),
		"http.response.status_code", rd.status,
	)
	if rd.onRedirect != nil {
		rd.onRedirect(fam)
	}
	http.Redirect(w, r, target, rd.status)
}

// location builds https://<host>[:<port>]<path>[?<query>]. The configured port
// always replaces the original one.
func (rd *Redirector) location(host string, u *url.URL) string {
	if rd.port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(rd.port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	b.WriteString(p)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// hostname strips any port from a request authority. IPv6 literals are
// returned without brackets.
func hostname(authority string) string {
	authority = strings.TrimSpace(authority)
	if h, _, err := net.SplitHostPort(authority); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
}
