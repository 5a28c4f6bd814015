package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func validSpanContext() context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceResponseHeaders(t *testing.T) {
	noopCtx, _ := noop.NewTracerProvider().Tracer("t").Start(context.Background(), "s")

	tests := []struct {
		name                      string
		ctx                       context.Context
		traceHdr, spanHdr         string
		wantTraceHdr, wantSpanHdr string
		wantTrace, wantSpan       string
	}{
		{"valid span defaults", validSpanContext(), "", "", "X-Trace-Id", "X-Span-Id", "0102030405060708090a0b0c0d0e0f10", "0102030405060708"},
		{"custom names", validSpanContext(), "Trace", "Span", "Trace", "Span", "0102030405060708090a0b0c0d0e0f10", "0102030405060708"},
		{"no span", context.Background(), "", "", "X-Trace-Id", "X-Span-Id", "", ""},
		{"noop span", noopCtx, "", "", "X-Trace-Id", "X-Span-Id", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := TraceResponseHeaders(tt.traceHdr, tt.spanHdr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(tt.ctx))

			if !called {
				t.Fatal("handler not called")
			}
			if got := rec.Header().Get(tt.wantTraceHdr); got != tt.wantTrace {
				t.Fatalf("%s = %q, want %q", tt.wantTraceHdr, got, tt.wantTrace)
			}
			if got := rec.Header().Get(tt.wantSpanHdr); got != tt.wantSpan {
				t.Fatalf("%s = %q, want %q", tt.wantSpanHdr, got, tt.wantSpan)
			}
		})
	}
}

func TestTraceResponseHeaders_SurviveRedirect(t *testing.T) {
	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.com/", http.StatusTemporaryRedirect)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(validSpanContext()))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatal("trace header missing on redirect")
	}
}
