package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Detector.Threshold)
	assert.Equal(t, 10, cfg.Detector.BatchSize)
	assert.Equal(t, 5, cfg.Detector.MaxConcurrent)
	assert.Equal(t, 50*time.Millisecond, cfg.Detector.BatchDelay)
	assert.True(t, cfg.Detector.FastPath.Enabled)
	assert.Equal(t, 0.8, cfg.Detector.FastPath.Threshold)
	assert.Equal(t, 20, cfg.Detector.FastPath.MinCandidates)
	assert.Equal(t, 5, cfg.Detector.FastPath.SampleSize)
	assert.Equal(t, 224, cfg.Backbone.InputSize)
	assert.Equal(t, 1024, cfg.Backbone.Dimension)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "Mozilla/5.0", cfg.Fetch.UserAgent)
	assert.Zero(t, cfg.Cache.MaxEntries)
	assert.Equal(t, "reports.db", filepath.Base(cfg.Database))
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportdedup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detector:
  threshold: 0.9
  batch_size: 4
  batch_delay: 10ms
fetch:
  timeout: 3s
cache:
  max_entries: 500
`), 0o600))

	t.Setenv("REPORTDEDUP_DETECTOR_BATCH_SIZE", "8")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Detector.Threshold)
	assert.Equal(t, 8, cfg.Detector.BatchSize, "env beats file")
	assert.Equal(t, 10*time.Millisecond, cfg.Detector.BatchDelay)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)

	mc := cfg.MatcherConfig()
	assert.Equal(t, 0.9, mc.DefaultThreshold)
	assert.Equal(t, 8, mc.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.FetchOptions().Timeout)
}

func TestValidateCollectsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detector:
  threshold: 1.5
backbone:
  input_size: 0
server:
  listen: "nowhere"
`), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
	assert.Contains(t, err.Error(), "backbone.input_size")
	assert.Contains(t, err.Error(), "server.listen")
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
