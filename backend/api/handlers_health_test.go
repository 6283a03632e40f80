package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexherrero/sherwood/backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_Degraded(t *testing.T) {
	cfg := &config.Config{TradingMode: config.ModeDryRun}
	h := NewHandler(nil, nil, nil, nil, nil, nil, nil, nil, nil, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"execution":"disabled"`)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
