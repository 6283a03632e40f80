package api

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness of the execution and risk subsystems.
// It is intentionally separate from the Prometheus /health served by
// observability.Server, which is bound to its own port for scraping.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ok"

	if h.engine != nil {
		checks["execution"] = "active"
	} else {
		checks["execution"] = "disabled"
		status = "degraded"
	}

	if h.risk != nil {
		if h.risk.IsKillSwitchActive() {
			checks["risk"] = "kill_switch_active"
			status = "degraded"
		} else {
			checks["risk"] = "active"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			checks["bus"] = "unreachable"
			status = "degraded"
		} else {
			checks["bus"] = "connected"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"mode":      string(h.cfg.TradingMode),
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now(),
		"checks":    checks,
	})
}
