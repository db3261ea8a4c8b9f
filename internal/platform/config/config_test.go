package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cna.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Arbiter.ConflictThreshold)
	assert.False(t, cfg.Pipeline.ConcurrentAnalyses)
	assert.Equal(t, "Chinese", cfg.Pipeline.Language)

	d, err := cfg.StageTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, `
models:
  reporter:
    name: gemini-2.5-pro
    temperature: 0.3
pipeline:
  language: English
  stage_timeout: 45s
arbiter:
  conflict_threshold: 5
log:
  format: text
`)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("CNA_LANGUAGE", "French")
	t.Setenv("CNA_CONCURRENT_ANALYSES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.GeminiAPIKey)
	assert.Equal(t, "French", cfg.Pipeline.Language, "env wins over file")
	assert.True(t, cfg.Pipeline.ConcurrentAnalyses)
	assert.Equal(t, 5, cfg.Arbiter.ConflictThreshold, "file wins over defaults")
	assert.Equal(t, "gemini-2.5-pro", cfg.Models.Reporter.Name)
	assert.Equal(t, "gemini-2.5-flash", cfg.Models.Analysis.Name, "unset roles keep defaults")
	assert.Equal(t, "text", cfg.Log.Format)

	d, err := cfg.StageTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "pipeline: [\n"))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, "pipeline:\n  stage_timeout: soon\n"))
		assert.ErrorContains(t, err, "pipeline.stage_timeout")
	})

	t.Run("non-positive threshold", func(t *testing.T) {
		t.Setenv("CNA_CONFLICT_THRESHOLD", "0")
		_, err := Load("")
		assert.ErrorContains(t, err, "conflict_threshold")
	})

	t.Run("unparseable env flag", func(t *testing.T) {
		t.Setenv("CNA_CONCURRENT_ANALYSES", "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, "CNA_CONCURRENT_ANALYSES")
	})
}

func TestZeroTimeoutDisablesDeadline(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.StageTimeout = "0"
	d, err := cfg.StageTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}
