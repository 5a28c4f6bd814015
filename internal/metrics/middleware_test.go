package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestStatusWriter(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantBytes  int
	}{
		{"explicit", func(w http.ResponseWriter) { w.WriteHeader(http.StatusNotFound) }, http.StatusNotFound, 0},
		{"write defaults 200", func(w http.ResponseWriter) { _, _ = w.Write([]byte("hello")) }, http.StatusOK, 5},
		{"header then body", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("aaa"))
			_, _ = w.Write([]byte("bbbbb"))
		}, http.StatusCreated, 8},
		{"interim ignored", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusEarlyHints)
			w.WriteHeader(http.StatusTemporaryRedirect)
		}, http.StatusTemporaryRedirect, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
			tt.write(sw)
			if sw.status != tt.wantStatus || sw.n != tt.wantBytes {
				t.Fatalf("status=%d bytes=%d, want %d/%d", sw.status, sw.n, tt.wantStatus, tt.wantBytes)
			}
		})
	}
}

func TestStatusWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	if sw.Unwrap() != rec {
		t.Fatal("Unwrap did not return the wrapped writer")
	}
	if err := http.NewResponseController(sw).Flush(); err != nil {
		t.Fatalf("Flush through controller: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("recorder not flushed")
	}
}

func TestMiddleware_Labels(t *testing.T) {
	tests := []struct {
		name      string
		useRouter bool
		method    string
		path      string
		status    int
		wantRoute string
		wantErr   float64
	}{
		{"chi pattern", true, http.MethodGet, "/users/42", http.StatusOK, "/users/{id}", 0},
		{"catch-all redirect", true, http.MethodPost, "/anything/at/all", http.StatusTemporaryRedirect, "/*", 0},
		{"no router", false, http.MethodGet, "/custom/path", http.StatusOK, unmatchedRoute, 0},
		{"upstream failure", true, http.MethodGet, "/x", http.StatusBadGateway, "/*", 1},
		{"client error", true, http.MethodGet, "/x", http.StatusNotFound, "/*", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			respond := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			var h http.Handler = respond
			if tt.useRouter {
				r := chi.NewRouter()
				r.Get("/users/{id}", respond)
				r.Handle("/*", respond)
				h = r
			}
			m.Middleware(h).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))

			code := testutil.ToFloat64(m.reqTotal.WithLabelValues(tt.method, tt.wantRoute, strconv.Itoa(tt.status)))
			if code != 1 {
				t.Fatalf("http_requests_total{%s,%s,%d} = %v, want 1", tt.method, tt.wantRoute, tt.status, code)
			}
			if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues(tt.method, tt.wantRoute)); got != tt.wantErr {
				t.Fatalf("http_errors_total = %v, want %v", got, tt.wantErr)
			}
			if n := testutil.CollectAndCount(m.reqDur); n != 1 {
				t.Fatalf("duration series = %d, want 1", n)
			}
		})
	}
}

func TestMiddleware_DefaultStatusAndSize(t *testing.T) {
	m := New()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "200")); got != 1 {
		t.Fatalf("200 count = %v", got)
	}
	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if f == nil {
		t.Fatal("response size not recorded")
	}
	if sum := f.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 11 {
		t.Fatalf("size sum = %v, want 11", sum)
	}
}

func TestMiddleware_InflightReturnsToZero(t *testing.T) {
	m := New()
	var during float64
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inflight)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if during != 1 {
		t.Fatalf("inflight during request = %v, want 1", during)
	}
	if after := testutil.ToFloat64(m.inflight); after != 0 {
		t.Fatalf("inflight after request = %v, want 0", after)
	}
}

func TestMiddleware_ResponsePassthrough(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://example.com/")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "https://example.com/" {
		t.Fatalf("response altered: %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	withFlags := func(f trace.TraceFlags) context.Context {
		return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID, SpanID: spanID, TraceFlags: f,
		}))
	}

	if got := traceExemplar(withFlags(trace.FlagsSampled)); got["trace_id"] != traceID.String() {
		t.Fatalf("sampled exemplar = %v", got)
	}
	if got := traceExemplar(withFlags(0)); got != nil {
		t.Fatalf("unsampled exemplar = %v", got)
	}
	if got := traceExemplar(context.Background()); got != nil {
		t.Fatalf("no-trace exemplar = %v", got)
	}
}
