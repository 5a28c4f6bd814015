// Package httpmw provides HTTP middleware for the public edge server.
//
// httpserver.NewHandler composes them in a fixed order: panic recovery,
// request ID, client IP resolution, rate limiting, OTEL tracing, trace
// response headers, metrics, structured logging, then the chi router. The
// redirect stage runs inside the router so health probes bypass it.
//
// Client-supplied values (query strings, user agents, arbitrary headers) are
// kept out of log fields.
package httpmw
