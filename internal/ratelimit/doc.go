// Package ratelimit is per-client rate limiting for the public listener.
//
// It is in-memory and per instance. It protects against a single client
// flooding the edge with requests (plaintext redirects are cheap for the
// client and still cost a goroutine each here), and bounds its own memory
// with a visitor cap. It does not protect against distributed floods; that
// belongs to filtering in front of the edge.
package ratelimit
