// Package health exposes liveness and readiness endpoints for the
// kubetransport daemon. Readiness tracks whether the initial Service and
// Pod informer sync (see pkg/k8sclient) has completed; until then the
// routing table and hosts file may still be missing entries.
package health

import (
	"net/http"
	"sync/atomic"
)

// HealthChecker tracks whether the cluster watches have finished their
// initial list-and-sync pass.
type HealthChecker struct {
	// synced flips true once cache.WaitForCacheSync reports success for
	// both the Service and Pod informers.
	synced atomic.Bool
}

// NewHealthChecker returns a checker that reports not-ready until SetReady
// is called with true.
func NewHealthChecker() *HealthChecker {
	hc := &HealthChecker{}
	hc.synced.Store(false)
	return hc
}

// SetReady records the outcome of the initial informer sync.
func (hc *HealthChecker) SetReady(synced bool) {
	hc.synced.Store(synced)
}

// IsReady reports whether the initial informer sync has completed.
func (hc *HealthChecker) IsReady() bool {
	return hc.synced.Load()
}

// LivenessHandler reports process liveness only; it never depends on
// cluster reachability, so a stalled watch doesn't get the process killed.
func (hc *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// ReadinessHandler reports whether the Service/Pod informers have
// completed their initial sync, i.e. whether the hosts file and routing
// table reflect the cluster's current state.
func (hc *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hc.IsReady() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("synced"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("waiting for initial service/pod sync"))
	})
}

// AttachHealthEndpoints registers /healthz and /readyz on mux.
func AttachHealthEndpoints(mux *http.ServeMux, checker *HealthChecker) {
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
}
