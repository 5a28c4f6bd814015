package redirect

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// HeaderHSTS is the canonical Strict-Transport-Security header name.
const HeaderHSTS = "Strict-Transport-Security"

// DefaultHSTSMaxAge is used when a policy document enables HSTS without a duration.
const DefaultHSTSMaxAge = 300 * time.Second

// HSTS is a Strict-Transport-Security policy.
type HSTS struct {
	MaxAge            time.Duration
	IncludeSubDomains bool
	Preload           bool
}

// DefaultHSTS returns max-age=300 with no optional directives.
func DefaultHSTS() HSTS {
	return HSTS{MaxAge: DefaultHSTSMaxAge}
}

// String renders the header value: max-age=<seconds>[; includeSubDomains][; preload]
func (h HSTS) String() string {
	var b strings.Builder
	b.WriteString("max-age=")
	b.WriteString(strconv.FormatInt(int64(h.MaxAge/time.Second), 10))
	if h.IncludeSubDomains {
		b.WriteString("; includeSubDomains")
	}
	if h.Preload {
		b.WriteString("; preload")
	}
	return b.String()
}

// Validate checks max-age is a non-negative whole number of seconds.
func (h HSTS) Validate() error {
	if h.MaxAge < 0 {
		return fmt.Errorf("%w: hsts max-age %s is negative", ErrConfig, h.MaxAge)
	}
	if h.MaxAge%time.Second != 0 {
		return fmt.Errorf("%w: hsts max-age %s is not a whole number of seconds", ErrConfig, h.MaxAge)
	}
	return nil
}

// HeaderValue validates the policy and returns the encoded header value.
func (h HSTS) HeaderValue() (string, error) {
	if err := h.Validate(); err != nil {
		return "", err
	}
	v := h.String()
	if !httpguts.ValidHeaderFieldValue(v) {
		return "", fmt.Errorf("%w: hsts value %q is not a valid header value", ErrConfig, v)
	}
	return v, nil
}

// setHSTS replaces any existing Strict-Transport-Security value.
// An empty value means no policy and leaves the header untouched.
func setHSTS(h http.Header, value string) {
	if value == "" {
		return
	}
	h.Set(HeaderHSTS, value)
}
