package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoBody writes back the body, or 413 with the read error when MaxBytesReader trips.
func echoBody(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if !errors.As(err, &mbe) {
				t.Errorf("read error %T, want *http.MaxBytesError", err)
			}
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		_, _ = w.Write(body)
	})
}

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		body    string
		chunked bool
		want    int
	}{
		{"under limit", 1024, "hello world", false, http.StatusOK},
		{"exactly at limit", 16, strings.Repeat("x", 16), false, http.StatusOK},
		{"declared over limit", 16, strings.Repeat("x", 17), false, http.StatusRequestEntityTooLarge},
		{"chunked over limit", 16, strings.Repeat("x", 64), true, http.StatusRequestEntityTooLarge},
		{"empty body", 16, "", false, http.StatusOK},
		{"zero disables", 0, strings.Repeat("x", 4096), false, http.StatusOK},
		{"negative disables", -1, strings.Repeat("x", 4096), true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			MaxBody(tt.limit)(echoBody(t)).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestMaxBody_DeclaredOverLimitSkipsHandler(t *testing.T) {
	called := false
	h := MaxBody(4)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", strings.NewReader("too long")))

	if called {
		t.Fatal("handler ran for an oversized request")
	}
	if rec.Header().Get("Connection") != "close" {
		t.Fatal("expected Connection: close")
	}
}
