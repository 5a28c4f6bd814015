package httpmw

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/tlsedge/internal/log"
	"github.com/keithlinneman/tlsedge/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log entry. onPanic,
// when set, runs after logging (metrics). http.ErrAbortHandler is re-raised so
// net/http can abort the connection as the handler asked.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					// deferred during the panic, so the stack still has the panicking frames
					err = xerrors.Wrap(xerrors.WithStack(v), "handler panic")
				default:
					err = xerrors.Newf("handler panic: %v", v)
				}

				ctx := r.Context()
				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(ctx, err, "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
