// Package config provides configuration management for the Sherwood order
// execution platform. It loads settings from environment variables and .env
// files, validates them fail-fast, and supports hot-reloading the subset of
// fields that don't require a process restart.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TradingMode represents the operating mode of the execution engine.
type TradingMode string

const (
	// ModeDryRun routes orders to the simulated broker only.
	ModeDryRun TradingMode = "dry_run"
	// ModeLive routes orders to a real brokerage connection.
	ModeLive TradingMode = "live"
)

// validLogLevels is the set of accepted zerolog log levels.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
	"panic": true, "disabled": true,
}

// ValidationError holds multiple configuration validation errors.
// It aggregates all issues so operators can fix everything in one pass.
type ValidationError struct {
	Errors []string
}

// Error returns a formatted multi-line error message listing all issues.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// ReloadChange describes a single configuration change detected during hot-reload.
type ReloadChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Applied  bool        `json:"applied"`
}

// ReloadResult summarizes what happened during a configuration hot-reload.
type ReloadResult struct {
	Changes         []ReloadChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	RestartReasons  []string       `json:"restart_reasons,omitempty"`
}

// Config holds all configuration for the Sherwood application.
type Config struct {
	mu sync.RWMutex // protects hot-reloadable fields during concurrent access

	// Server settings
	ServerPort     int
	ServerHost     string
	AllowedOrigins []string

	// Trading settings
	TradingMode TradingMode

	// Database settings
	DatabasePath string

	// Shared state / bus settings
	BusURL string // redis connection URL backing presence, revocation, and the kill switch

	// Auth settings
	JWTPrivateKeyPath string        // PEM-encoded RS256 private key used to sign tokens
	JWTPublicKeyPath  string        // PEM-encoded RS256 public key used to verify tokens
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	AdminAPIKey       string // service-to-service key for internal/admin routes

	// Broker settings
	BrokerHeartbeatInterval time.Duration
	ReconnectMaxAttempts    int
	ReconnectBaseDelay      time.Duration

	// Risk engine settings
	RiskRulesPath string // path to the JSON risk rule set

	// Metrics/observability settings
	MetricsPort int

	// Logging
	LogLevel string

	// Shutdown settings
	CloseOnShutdown bool
	ShutdownTimeout time.Duration

	// Internal settings
	EnvFile string
}

// Load reads configuration from environment variables and .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		ServerPort:     getEnvInt("PORT", 8099),
		ServerHost:     getEnv("HOST", "0.0.0.0"),
		TradingMode:    TradingMode(getEnv("TRADING_MODE", "dry_run")),
		DatabasePath:   getEnv("DATABASE_PATH", "./data/sherwood.db"),
		BusURL:         getEnv("BUS_URL", "redis://localhost:6379/0"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./certs/jwt_private.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./certs/jwt_public.pem"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:   getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AdminAPIKey:       os.Getenv("ADMIN_API_KEY"),

		BrokerHeartbeatInterval: getEnvDuration("BROKER_HEARTBEAT_INTERVAL", 15*time.Second),
		ReconnectMaxAttempts:    getEnvInt("BROKER_RECONNECT_MAX_ATTEMPTS", 10),
		ReconnectBaseDelay:      getEnvDuration("BROKER_RECONNECT_BASE_DELAY", 500*time.Millisecond),

		RiskRulesPath: getEnv("RISK_RULES_PATH", "./config/risk_rules.json"),

		MetricsPort: getEnvInt("METRICS_PORT", 9090),

		EnvFile: ".env",

		CloseOnShutdown: getEnv("CLOSE_ON_SHUTDOWN", "false") == "true",
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive configuration validation with fail-fast
// behavior. All errors are aggregated and returned as a single
// ValidationError so operators can fix everything in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.TradingMode != ModeDryRun && c.TradingMode != ModeLive {
		errs = append(errs,
			fmt.Sprintf("invalid TRADING_MODE '%s': must be 'dry_run' or 'live'", c.TradingMode))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs,
			fmt.Sprintf("invalid PORT %d: must be between 1 and 65535", c.ServerPort))
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		errs = append(errs,
			fmt.Sprintf("invalid METRICS_PORT %d: must be between 1 and 65535", c.MetricsPort))
	}

	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH is empty: set DATABASE_PATH in .env")
	}

	if c.BusURL == "" {
		errs = append(errs, "BUS_URL is empty: set BUS_URL in .env (e.g. redis://localhost:6379/0)")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs,
			fmt.Sprintf("invalid LOG_LEVEL '%s': must be one of trace, debug, info, warn, error, fatal, panic, disabled", c.LogLevel))
	}

	if c.RiskRulesPath == "" {
		errs = append(errs, "RISK_RULES_PATH is empty: set RISK_RULES_PATH in .env")
	}

	if c.ReconnectMaxAttempts < 1 {
		errs = append(errs, "BROKER_RECONNECT_MAX_ATTEMPTS must be at least 1")
	}

	errs = append(errs, c.validateMode()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// validateMode checks mode-specific requirements. Every mode requires both
// JWT key paths; live mode also requires an admin key for operator routes.
func (c *Config) validateMode() []string {
	var errs []string

	if c.JWTPrivateKeyPath == "" {
		errs = append(errs, "JWT_PRIVATE_KEY_PATH is empty: set JWT_PRIVATE_KEY_PATH in .env")
	}
	if c.JWTPublicKeyPath == "" {
		errs = append(errs, "JWT_PUBLIC_KEY_PATH is empty: set JWT_PUBLIC_KEY_PATH in .env")
	}

	if c.IsLive() {
		if c.AdminAPIKey == "" {
			errs = append(errs,
				"live mode requires ADMIN_API_KEY for operator routes: set ADMIN_API_KEY in .env")
		}
	}

	return errs
}

// IsDryRun returns true if the engine is routing orders to the simulated broker.
func (c *Config) IsDryRun() bool {
	return c.TradingMode == ModeDryRun
}

// IsLive returns true if the engine is routing orders to a real broker.
func (c *Config) IsLive() bool {
	return c.TradingMode == ModeLive
}

// Reload re-reads configuration from environment variables and .env files,
// applying only hot-reloadable fields to the live config. Structural fields
// (server port, trading mode, database path, bus URL) are detected but NOT
// applied — the caller receives a RequiresRestart advisory.
//
// Hot-reloadable fields: LogLevel (also updates zerolog's global level),
// CloseOnShutdown, ShutdownTimeout, AllowedOrigins, AdminAPIKey.
func (c *Config) Reload() (*ReloadResult, error) {
	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Overload(envFile)

	newCfg := &Config{
		ServerPort:              getEnvInt("PORT", 8099),
		ServerHost:              getEnv("HOST", "0.0.0.0"),
		TradingMode:             TradingMode(getEnv("TRADING_MODE", "dry_run")),
		DatabasePath:            getEnv("DATABASE_PATH", "./data/sherwood.db"),
		BusURL:                  getEnv("BUS_URL", "redis://localhost:6379/0"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:          parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		JWTPrivateKeyPath:       getEnv("JWT_PRIVATE_KEY_PATH", "./certs/jwt_private.pem"),
		JWTPublicKeyPath:        getEnv("JWT_PUBLIC_KEY_PATH", "./certs/jwt_public.pem"),
		AccessTokenTTL:          getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:         getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		BrokerHeartbeatInterval: getEnvDuration("BROKER_HEARTBEAT_INTERVAL", 15*time.Second),
		ReconnectMaxAttempts:    getEnvInt("BROKER_RECONNECT_MAX_ATTEMPTS", 10),
		ReconnectBaseDelay:      getEnvDuration("BROKER_RECONNECT_BASE_DELAY", 500*time.Millisecond),
		RiskRulesPath:           getEnv("RISK_RULES_PATH", "./config/risk_rules.json"),
		MetricsPort:             getEnvInt("METRICS_PORT", 9090),
		EnvFile:                 envFile,
		CloseOnShutdown:         getEnv("CLOSE_ON_SHUTDOWN", "false") == "true",
		ShutdownTimeout:         getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config validation failed: %w", err)
	}

	result := &ReloadResult{Changes: make([]ReloadChange, 0)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectRestartChange(result, "ServerPort", c.ServerPort, newCfg.ServerPort)
	c.detectRestartChange(result, "ServerHost", c.ServerHost, newCfg.ServerHost)
	c.detectRestartChange(result, "TradingMode", string(c.TradingMode), string(newCfg.TradingMode))
	c.detectRestartChange(result, "DatabasePath", c.DatabasePath, newCfg.DatabasePath)
	c.detectRestartChange(result, "BusURL", c.BusURL, newCfg.BusURL)
	c.detectRestartChange(result, "MetricsPort", c.MetricsPort, newCfg.MetricsPort)
	c.detectRestartChange(result, "RiskRulesPath", c.RiskRulesPath, newCfg.RiskRulesPath)

	if c.LogLevel != newCfg.LogLevel {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "LogLevel", OldValue: c.LogLevel, NewValue: newCfg.LogLevel, Applied: true,
		})
		c.LogLevel = newCfg.LogLevel
		if lvl, err := zerolog.ParseLevel(newCfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	if c.CloseOnShutdown != newCfg.CloseOnShutdown {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "CloseOnShutdown", OldValue: c.CloseOnShutdown, NewValue: newCfg.CloseOnShutdown, Applied: true,
		})
		c.CloseOnShutdown = newCfg.CloseOnShutdown
	}

	if c.ShutdownTimeout != newCfg.ShutdownTimeout {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "ShutdownTimeout", OldValue: c.ShutdownTimeout.String(), NewValue: newCfg.ShutdownTimeout.String(), Applied: true,
		})
		c.ShutdownTimeout = newCfg.ShutdownTimeout
	}

	if !stringSlicesEqual(c.AllowedOrigins, newCfg.AllowedOrigins) {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "AllowedOrigins", OldValue: c.AllowedOrigins, NewValue: newCfg.AllowedOrigins, Applied: true,
		})
		c.AllowedOrigins = newCfg.AllowedOrigins
	}

	if c.AdminAPIKey != newCfg.AdminAPIKey {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "AdminAPIKey", OldValue: "[redacted]", NewValue: "[redacted]", Applied: true,
		})
		c.AdminAPIKey = newCfg.AdminAPIKey
	}

	log.Info().
		Int("total_changes", len(result.Changes)).
		Bool("requires_restart", result.RequiresRestart).
		Msg("configuration reloaded")

	return result, nil
}

// detectRestartChange checks if a field value changed and records it as a
// restart-required change (not applied to the live config).
func (c *Config) detectRestartChange(result *ReloadResult, field string, oldVal, newVal interface{}) {
	if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
		result.Changes = append(result.Changes, ReloadChange{
			Field:    field,
			OldValue: oldVal,
			NewValue: newVal,
			Applied:  false,
		})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, field+" changed")
	}
}

// stringSlicesEqual returns true if two string slices have identical contents.
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a time.Duration or
// returns a default. The value should be a Go duration string (e.g. "30s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func parseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// GenerateAPIKey generates a secure random API key of 32 bytes (64 hex characters).
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// RotateAdminAPIKey generates a new admin API key, updates the config, and
// persists it to the .env file.
func (c *Config) RotateAdminAPIKey() (string, error) {
	newKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	c.AdminAPIKey = newKey

	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}

	content, err := os.ReadFile(envFile)
	if err != nil {
		if os.IsNotExist(err) {
			return newKey, os.WriteFile(envFile, []byte("ADMIN_API_KEY="+newKey+"\n"), 0644)
		}
		return "", err
	}

	lines := strings.Split(string(content), "\n")
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, "ADMIN_API_KEY=") {
			lines[i] = "ADMIN_API_KEY=" + newKey
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, "ADMIN_API_KEY="+newKey)
	}

	if err := os.WriteFile(envFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", fmt.Errorf("failed to write .env file: %w", err)
	}

	return newKey, nil
}
