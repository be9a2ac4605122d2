package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RetrievalAndModelDefaults(t *testing.T) {
	envVars := []string{
		"PRIMARY_MODEL",
		"FALLBACK_MODEL",
		"EMBEDDING_MODEL",
		"EMBEDDING_DIM",
		"PROVIDER_RPM",
	}
	for _, key := range envVars {
		_ = os.Unsetenv(key)
	}

	cfg := Load()

	assert.Equal(t, "gpt-4o", cfg.PrimaryModel)
	assert.Equal(t, "gpt-4o-mini", cfg.FallbackModel)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, 60, cfg.RequestsPerMinute)
}

func TestLoad_ModelParameters_FromEnv(t *testing.T) {
	t.Setenv("PRIMARY_MODEL", "claude-large")
	t.Setenv("FALLBACK_MODEL", "claude-small")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("ASSESSMENT_MAX_TOKENS", "4096")

	cfg := Load()

	assert.Equal(t, "claude-large", cfg.PrimaryModel)
	assert.Equal(t, "claude-small", cfg.FallbackModel)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 4096, cfg.AnswerMaxTokens)
}

func TestLoad_AnalysisDefaults(t *testing.T) {
	for _, key := range []string{"ASSESSMENT_PROMPT_VERSION", "ASSESSMENT_MAX_TOKENS", "MODEL_TIMEOUT_SECONDS", "ANALYSIS_BATCH_SIZE"} {
		_ = os.Unsetenv(key)
	}

	cfg := Load()

	assert.Equal(t, "assess-v1", cfg.PromptVersion)
	assert.Equal(t, 2048, cfg.AnswerMaxTokens)
	assert.Equal(t, 120, cfg.ModelTimeout)
	assert.Equal(t, 5, cfg.BatchSize)
}

func TestLoad_OTelDisabledByDefault(t *testing.T) {
	_ = os.Unsetenv("OTEL_ENABLED")

	cfg := Load()

	assert.False(t, cfg.OTelEnabled)
}

func TestLoad_OTelEnabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg := Load()

	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, "http://collector:4318", cfg.OTelEndpoint)
}

func TestGetSecret(t *testing.T) {
	t.Run("env value wins over file", func(t *testing.T) {
		t.Setenv("TEST_SECRET", "from-env")
		t.Setenv("TEST_SECRET_FILE", "/nonexistent")

		assert.Equal(t, "from-env", getSecret("TEST_SECRET", "TEST_SECRET_FILE", "fallback"))
	})

	t.Run("reads and trims the secret file", func(t *testing.T) {
		_ = os.Unsetenv("TEST_SECRET")
		secretPath := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(secretPath, []byte("  s3cret\n"), 0600))
		t.Setenv("TEST_SECRET_FILE", secretPath)

		assert.Equal(t, "s3cret", getSecret("TEST_SECRET", "TEST_SECRET_FILE", "fallback"))
	})

	t.Run("missing file falls back", func(t *testing.T) {
		_ = os.Unsetenv("TEST_SECRET")
		t.Setenv("TEST_SECRET_FILE", "/nonexistent/path")

		assert.Equal(t, "fallback", getSecret("TEST_SECRET", "TEST_SECRET_FILE", "fallback"))
	})
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback int
		expected int
	}{
		{"valid value", "42", 10, 42},
		{"invalid value uses fallback", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			assert.Equal(t, tt.expected, getEnvInt("TEST_INT", tt.fallback))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback bool
		expected bool
	}{
		{"true value", "true", false, true},
		{"numeric true", "1", false, true},
		{"invalid value uses fallback", "yes-please", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.expected, getEnvBool("TEST_BOOL", tt.fallback))
		})
	}
}
