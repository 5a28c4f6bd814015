package httpmw

import (
	"net/http"
	"strings"
)

// SchemeFromRequest reports the scheme the client used. X-Forwarded-Proto is
// consulted first and is only trustworthy behind ClientIPWithOptions, which
// strips it from untrusted peers. Anything other than http or https is ignored.
// The request URL scheme is never used: an absolute-form request target is
// chosen by the client.
func SchemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if s, ok := validScheme(first); ok {
			return s
		}
	}

	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func validScheme(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "http", "https":
		return s, true
	}
	return "", false
}
