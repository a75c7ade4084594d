package health

import (
	"net/http"

	coreHealth "github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	jsoniter "github.com/json-iterator/go"
)

type healthHandler struct {
	readiness      coreHealth.ReadinessChecker
	trafficControl coreHealth.TrafficController
}

func newHealthHandler(r coreHealth.ReadinessChecker, t coreHealth.TrafficController) *healthHandler {
	return &healthHandler{readiness: r, trafficControl: t}
}

// IsReady answers the readiness probe. The first ready answer marks the
// service traffic-ready.
func (h *healthHandler) IsReady(w http.ResponseWriter, r *http.Request) {
	ready := h.readiness.IsReady()
	if ready {
		h.trafficControl.MarkTrafficReady()
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	if r.URL.Query().Get("format") == "json" || r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(h.readiness.GetStatus())
		return
	}

	w.WriteHeader(status)
	if ready {
		_, _ = w.Write([]byte("ready"))
	} else {
		_, _ = w.Write([]byte("not ready"))
	}
}

func (h *healthHandler) IsLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
