package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexherrero/sherwood/backend/auth"
	"github.com/alexherrero/sherwood/backend/bus"
	"github.com/alexherrero/sherwood/backend/config"
	"github.com/alexherrero/sherwood/backend/data"
	"github.com/alexherrero/sherwood/backend/execution"
	"github.com/alexherrero/sherwood/backend/notifications"
	"github.com/alexherrero/sherwood/backend/observability"
	"github.com/alexherrero/sherwood/backend/realtime"
	"github.com/alexherrero/sherwood/backend/risk"
)

// Handler holds every dependency the REST surface needs to serve a
// request: the execution and risk engines, the read-side repository, the
// auth issuer/verifier, and the cross-instance fan-out layers.
type Handler struct {
	engine    *execution.Engine
	repo      *data.Repository
	risk      *risk.Engine
	issuer    *auth.Issuer
	verifier  *auth.Verifier
	bus       *bus.Client
	realtime  *realtime.Manager
	notifier  *notifications.Manager
	metrics   *observability.Recorder
	cfg       *config.Config
	startTime time.Time
}

// NewHandler wires a Handler from its collaborators. realtime may be nil
// when the process runs without the WebSocket fan-out layer.
func NewHandler(
	engine *execution.Engine,
	repo *data.Repository,
	riskEngine *risk.Engine,
	issuer *auth.Issuer,
	verifier *auth.Verifier,
	busClient *bus.Client,
	rt *realtime.Manager,
	notifier *notifications.Manager,
	metrics *observability.Recorder,
	cfg *config.Config,
) *Handler {
	return &Handler{
		engine:    engine,
		repo:      repo,
		risk:      riskEngine,
		issuer:    issuer,
		verifier:  verifier,
		bus:       busClient,
		realtime:  rt,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a standard APIError response.
func writeError(w http.ResponseWriter, status int, message string, code ...string) {
	errCode := http.StatusText(status)
	if len(code) > 0 {
		errCode = code[0]
	}
	writeJSON(w, status, APIError{Error: message, Code: errCode})
}
