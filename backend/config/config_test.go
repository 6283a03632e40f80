package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDryRunConfig() *Config {
	return &Config{
		TradingMode:          ModeDryRun,
		ServerPort:           8099,
		MetricsPort:          9090,
		DatabasePath:         "./data/sherwood.db",
		BusURL:               "redis://localhost:6379/0",
		LogLevel:             "info",
		RiskRulesPath:        "./config/risk_rules.json",
		JWTPrivateKeyPath:    "./certs/jwt_private.pem",
		JWTPublicKeyPath:     "./certs/jwt_public.pem",
		ReconnectMaxAttempts: 10,
	}
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "single origin", input: "http://localhost:3000", expected: []string{"http://localhost:3000"}},
		{name: "multiple origins", input: "http://a.com,http://b.com", expected: []string{"http://a.com", "http://b.com"}},
		{name: "with spaces", input: "http://a.com , http://b.com", expected: []string{"http://a.com", "http://b.com"}},
		{name: "empty string", input: "", expected: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseList(tc.input))
		})
	}
}

func TestConfigLoad_Full(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("TRADING_MODE", "live")
	t.Setenv("DATABASE_PATH", "/tmp/test.db")
	t.Setenv("BUS_URL", "redis://localhost:6379/1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "http://example.com,http://foo.com")
	t.Setenv("ADMIN_API_KEY", "secret-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "0.0.0.0", cfg.ServerHost)
	assert.Equal(t, "redis://localhost:6379/1", cfg.BusURL)
	assert.Equal(t, "secret-key", cfg.AdminAPIKey)
	assert.Equal(t, []string{"http://example.com", "http://foo.com"}, cfg.AllowedOrigins)
}

func TestRotateAdminAPIKey(t *testing.T) {
	tmpfile, err := os.CreateTemp("", ".env")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.Write([]byte("PORT=8080\nADMIN_API_KEY=old-key\nLOG_LEVEL=info"))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg := &Config{
		EnvFile:     tmpfile.Name(),
		AdminAPIKey: "old-key",
	}

	newKey, err := cfg.RotateAdminAPIKey()
	require.NoError(t, err)
	assert.NotEmpty(t, newKey)
	assert.NotEqual(t, "old-key", newKey)
	assert.Equal(t, newKey, cfg.AdminAPIKey)

	content, err := os.ReadFile(tmpfile.Name())
	require.NoError(t, err)
	contentStr := string(content)
	assert.Contains(t, contentStr, "ADMIN_API_KEY="+newKey)
	assert.Contains(t, contentStr, "PORT=8080")
}

func TestValidate_ValidDryRunConfig(t *testing.T) {
	require.NoError(t, validDryRunConfig().Validate())
}

func TestValidate_ValidLiveConfig(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.TradingMode = ModeLive
	cfg.AdminAPIKey = "some-secret-key"
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidTradingMode(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.TradingMode = "invalid"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRADING_MODE")
	assert.Contains(t, err.Error(), "invalid")
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.ServerPort = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.MetricsPort = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRICS_PORT")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.LogLevel = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "verbose")
}

func TestValidate_ValidLogLevels(t *testing.T) {
	levels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := validDryRunConfig()
			cfg.LogLevel = level
			require.NoError(t, cfg.Validate())
		})
	}
}

func TestValidate_EmptyBusURL(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.BusURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUS_URL")
}

func TestValidate_EmptyRiskRulesPath(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.RiskRulesPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RISK_RULES_PATH")
}

func TestValidate_MissingJWTKeyPaths(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.JWTPrivateKeyPath = ""
	cfg.JWTPublicKeyPath = ""
	err := cfg.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.GreaterOrEqual(t, len(ve.Errors), 2)
	assert.Contains(t, err.Error(), "JWT_PRIVATE_KEY_PATH")
	assert.Contains(t, err.Error(), "JWT_PUBLIC_KEY_PATH")
}

func TestValidate_InvalidReconnectAttempts(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.ReconnectMaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKER_RECONNECT_MAX_ATTEMPTS")
}

func TestValidate_LiveModeMissingAdminKey(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.TradingMode = ModeLive
	cfg.AdminAPIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_API_KEY")
	assert.Contains(t, err.Error(), "live mode")
}

func TestValidate_EmptyDatabasePath(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.DatabasePath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_PATH")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		TradingMode:  "bogus",
		ServerPort:   0,
		MetricsPort:  0,
		DatabasePath: "",
		BusURL:       "",
		LogLevel:     "verbose",
	}
	err := cfg.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.GreaterOrEqual(t, len(ve.Errors), 5, "expected at least 5 aggregated errors, got %d: %v", len(ve.Errors), ve.Errors)
}

func TestValidationError_ErrorFormat(t *testing.T) {
	ve := &ValidationError{Errors: []string{"error one", "error two", "error three"}}
	errStr := ve.Error()
	assert.Contains(t, errStr, "3 configuration error(s)")
	assert.Contains(t, errStr, "error one")
	assert.Contains(t, errStr, "error two")
	assert.Contains(t, errStr, "error three")
}

func TestValidate_DryRunNoAdminKeyOK(t *testing.T) {
	cfg := validDryRunConfig()
	cfg.AdminAPIKey = ""
	require.NoError(t, cfg.Validate())
}

func TestIsDryRunIsLive(t *testing.T) {
	cfg := validDryRunConfig()
	assert.True(t, cfg.IsDryRun())
	assert.False(t, cfg.IsLive())

	cfg.TradingMode = ModeLive
	assert.False(t, cfg.IsDryRun())
	assert.True(t, cfg.IsLive())
}
