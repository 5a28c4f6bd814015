// Package redirect enforces a transport security policy on the public server.
//
// Plaintext requests from the configured client address families are
// redirected to https, and every response, redirected or forwarded, carries
// the configured Strict-Transport-Security header. Clients on a dual-stack
// listener that show up as IPv4-mapped IPv6 addresses are treated as IPv4.
//
// A peer whose family cannot be determined is never redirected, and neither
// is a request without a host; both are forwarded to the wrapped handler.
package redirect
