package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbeHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  func(Probe) http.HandlerFunc
		probe    Probe
		wantCode int
		wantBody string
	}{
		{"healthz ok", HealthzHandler, Fixed(true, ""), http.StatusOK, "ok"},
		{"healthz nil probe", HealthzHandler, nil, http.StatusOK, "ok"},
		{"healthz failing", HealthzHandler, Fixed(false, "upstream unreachable"), http.StatusServiceUnavailable, "upstream unreachable"},
		{"readyz ok", ReadyzHandler, Fixed(true, ""), http.StatusOK, "ready"},
		{"readyz nil probe", ReadyzHandler, nil, http.StatusOK, "ready"},
		{"readyz draining", ReadyzHandler, Fixed(false, "draining"), http.StatusServiceUnavailable, "draining"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(tt.probe).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Fatal("probe responses must not be cached")
			}
		})
	}
}

func TestHealthzHandler_EvaluatedPerRequest(t *testing.T) {
	healthy := true
	h := HealthzHandler(CheckFunc(func(context.Context) error {
		if !healthy {
			return errors.New("flipped")
		}
		return nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("initial status = %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("after flip status = %d", rec.Code)
	}
}

func TestHealthzHandler_PassesRequestContext(t *testing.T) {
	type ctxKey struct{}
	var got any
	h := HealthzHandler(CheckFunc(func(ctx context.Context) error {
		got = ctx.Value(ctxKey{})
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "value"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "value" {
		t.Fatal("request context not passed to probe")
	}
}
