package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "auto", cfg.ModelProvider)
	assert.Equal(t, 22*time.Second, cfg.WaitTimeout)
	assert.Equal(t, time.Hour, cfg.ExecutionTTL)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_PORT", "9090")
	t.Setenv("PARLEY_MODEL_PROVIDER", "scripted")
	t.Setenv("PARLEY_WAIT_TIMEOUT", "5s")
	t.Setenv("PARLEY_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "scripted", cfg.ModelProvider)
	assert.Equal(t, 5*time.Second, cfg.WaitTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoadMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PARLEY_PORT", "not-a-number")
	t.Setenv("PARLEY_WAIT_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 22*time.Second, cfg.WaitTimeout)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	t.Setenv("PARLEY_MODEL_PROVIDER", "crystal-ball")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	t.Setenv("PARLEY_MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("PARLEY_PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}
