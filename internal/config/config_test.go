package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/descent/internal/optimization/solver"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Optimization.WorkerCount)
	assert.Equal(t, solver.LBFGS, cfg.DefaultMethod())
	assert.Equal(t, time.Hour, cfg.Optimization.JobRetention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("OPT_WORKER_COUNT", "2")
	t.Setenv("OPT_DEFAULT_METHOD", "trust-dogleg")
	t.Setenv("OPT_TOLERANCE", "1e-9")
	t.Setenv("OPT_JOB_RETENTION", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Optimization.WorkerCount)
	assert.Equal(t, solver.TrustDogleg, cfg.DefaultMethod())
	assert.Equal(t, 1e-9, cfg.Optimization.Tolerance)
	assert.Equal(t, 5*time.Minute, cfg.Optimization.JobRetention)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Setenv("OPT_DEFAULT_METHOD", "gradient-free")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("OPT_DEFAULT_METHOD", "bfgs")
	t.Setenv("OPT_WORKER_COUNT", "0")
	_, err = Load()
	assert.Error(t, err)
}
