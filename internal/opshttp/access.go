package opshttp

import (
	"net/http"
	"net/netip"

	"github.com/keithlinneman/tlsedge/internal/log"
)

// requireNonPublicNetwork refuses peers outside loopback, private and
// link-local ranges. The admin port should already be firewalled; this keeps
// pprof and metrics private if it is not.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil || !nonPublic(ap.Addr()) {
			L.Warn(r.Context(), "ops http request from public network refused",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}
