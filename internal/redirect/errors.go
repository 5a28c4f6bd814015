package redirect

import "errors"

var (
	// ErrConfig marks an invalid redirect or HSTS policy. It is only returned
	// while building the stage, never per request.
	ErrConfig = errors.New("invalid transport security config")

	// ErrMissingHost is logged when a request that would be redirected carries
	// no host; the request is forwarded instead.
	ErrMissingHost = errors.New("request has no host to redirect to")
)
