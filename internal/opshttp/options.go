package opshttp

import (
	"net/http"

	"github.com/keithlinneman/tlsedge/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Policy, when set, is served as JSON on /-/policy so operators can see
	// which redirect and HSTS settings are live.
	Policy any

	UseRecoverMW bool
	OnPanic      func()
}
