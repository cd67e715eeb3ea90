package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "SESSION_SECRET", "a-session-secret-for-local-dev")
	setEnv(t, "PORT", "9090")
	setEnv(t, "CB_OPEN_TIMEOUT", "30s")
	setEnv(t, "FALLBACK_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, 30*time.Second, cfg.CBOpenTimeout)
	assert.True(t, cfg.FallbackMode)
	assert.Equal(t, 5, cfg.CBFailureThreshold)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.HealthCacheTTL)
	assert.Equal(t, 8*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, 5, cfg.RateLimitMaxAuth)
	assert.Equal(t, 100, cfg.RateLimitMaxAPI)
}

func TestLoad_MissingSessionSecret(t *testing.T) {
	setEnv(t, "SESSION_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				RPCURL:        DefaultRPCURL,
				SessionSecret: "secret",
			},
			wantErr: "",
		},
		{
			name: "missing RPC URL",
			config: Config{
				SessionSecret: "secret",
			},
			wantErr: "RPC_URL is required",
		},
		{
			name: "missing session secret",
			config: Config{
				RPCURL: DefaultRPCURL,
			},
			wantErr: "SESSION_SECRET is required",
		},
		{
			name: "short secret rejected in production",
			config: Config{
				Env:           "production",
				RPCURL:        DefaultRPCURL,
				SessionSecret: "short",
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "invalid operator key length",
			config: Config{
				RPCURL:        DefaultRPCURL,
				SessionSecret: "secret",
				OperatorKey:   "abc123",
			},
			wantErr: "64 hex characters",
		},
		{
			name: "operator key with 0x prefix",
			config: Config{
				RPCURL:        DefaultRPCURL,
				SessionSecret: "secret",
				OperatorKey:   "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			},
			wantErr: "",
		},
		{
			name: "loopback webhook rejected in production",
			config: Config{
				Env:             "production",
				RPCURL:          DefaultRPCURL,
				SessionSecret:   "a-session-secret-of-sufficient-length",
				AlertWebhookURL: "http://127.0.0.1:9000/hook",
			},
			wantErr: "ALERT_WEBHOOK_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DURATION", "90s")
	setEnv(t, "TEST_BAD_DURATION", "ninety")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_BAD_DURATION", time.Minute)) // Falls back on parse error
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "true")
	setEnv(t, "TEST_BAD_BOOL", "yep")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("NONEXISTENT_VAR", false))
	assert.False(t, getEnvBool("TEST_BAD_BOOL", false))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
	assert.Equal(t, []string{"https://app.example.com"}, splitList("https://app.example.com,"))
}
