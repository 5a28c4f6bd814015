package redirect

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// hstsWriter sets the HSTS header at the moment the response headers are
// committed, so it overwrites whatever the wrapped handler put there.
type hstsWriter struct {
	http.ResponseWriter
	value     string
	committed bool
}

func (w *hstsWriter) WriteHeader(code int) {
	if !w.committed {
		setHSTS(w.Header(), w.value)
		// 1xx responses other than 101 do not commit the final headers
		if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
			w.committed = true
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *hstsWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *hstsWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	setHSTS(w.Header(), w.value)
}

// finish covers handlers that return without writing anything; net/http
// sends the header map as-is after the handler returns.
func (w *hstsWriter) finish() {
	w.commit()
}

func (w *hstsWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *hstsWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	w.committed = true
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *hstsWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
