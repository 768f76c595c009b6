package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	d := DefaultConfig()
	assert.Equal(t, d.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, d.Audio, cfg.Audio)
	assert.Equal(t, d.Store, cfg.Store)
	assert.Equal(t, d.Detection, cfg.Detection)
	assert.Equal(t, d.Enrollment, cfg.Enrollment)
	assert.Equal(t, "info", cfg.Log.Level)

	engine := cfg.Engine()
	assert.Equal(t, 150*time.Millisecond, engine.EstimatorBudget)
	assert.Equal(t, 3, engine.Enrollment.MinSamples)
	assert.Equal(t, int64(4*1024*1024), cfg.Transport().ReadLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DIARIZER_SERVER_ADDR", ":9999")
	t.Setenv("DIARIZER_DETECTION_ESTIMATOR_BUDGET", "200ms")
	t.Setenv("DIARIZER_ENROLLMENT_MIN_SAMPLES", "5")
	t.Setenv("DIARIZER_LOG_PRETTY", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 200*time.Millisecond, cfg.Detection.EstimatorBudget)
	assert.Equal(t, 5, cfg.Engine().Enrollment.MinSamples)
	assert.True(t, cfg.Logging().Pretty)
}

func TestLoad_YAMLAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := "store:\n  dir: /var/lib/diarizer\n  owner: desk-1\naudio:\n  frame: 250ms\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diarizer.yaml"), []byte(yaml), 0o644))

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DIARIZER_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DIARIZER_LOG_LEVEL") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/diarizer", cfg.Store.Dir)
	assert.Equal(t, "desk-1", cfg.Store.Owner)
	assert.Equal(t, 250*time.Millisecond, cfg.Audio.Frame)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("DIARIZER_AUDIO_SAMPLE_RATE", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "sample rate")
}
