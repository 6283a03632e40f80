package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/alexherrero/sherwood/backend/config"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware creates a middleware that checks for a valid admin API
// key. It requires the X-Sherwood-API-Key header to match the configured
// AdminAPIKey. Uses constant-time comparison to prevent timing attacks.
//
// This guards the thin operator-facing HTTP API (order placement, account
// lookup); end-user sessions authenticate over the WebSocket fan-out
// layer instead, via backend/auth's JWT verifier.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If no admin key is configured, allow all requests (dev mode).
			// In live mode config.Validate rejects an empty AdminAPIKey, so
			// this branch is unreachable outside dry-run/testing.
			if cfg.AdminAPIKey == "" {
				log.Warn().Msg("no admin API key configured - authentication disabled (dry-run only)")
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-Sherwood-API-Key")

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.AdminAPIKey)) != 1 {
				log.Warn().
					Str("ip", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("unauthorized access attempt: invalid API key")
				writeError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
