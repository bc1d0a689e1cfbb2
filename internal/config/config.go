// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/descent/internal/optimization/solver"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// WorkerCount bounds the number of solves running at once.
		WorkerCount   int    `env:"OPT_WORKER_COUNT" envDefault:"10"`
		DefaultMethod string `env:"OPT_DEFAULT_METHOD" envDefault:"lbfgs"`
		// MaxIterations and Tolerance fill requests that leave them unset.
		// Zero keeps each driver's own default.
		MaxIterations int     `env:"OPT_MAX_ITERATIONS" envDefault:"0"`
		Tolerance     float64 `env:"OPT_TOLERANCE" envDefault:"0"`
		// JobRetention is how long finished jobs stay queryable.
		JobRetention time.Duration `env:"OPT_JOB_RETENTION" envDefault:"1h"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Optimization.WorkerCount < 1 {
		return fmt.Errorf("config: OPT_WORKER_COUNT must be positive, got %d", c.Optimization.WorkerCount)
	}
	if _, err := solver.ParseMethod(c.Optimization.DefaultMethod); err != nil {
		return fmt.Errorf("config: OPT_DEFAULT_METHOD: %w", err)
	}
	if c.Optimization.MaxIterations < 0 || c.Optimization.Tolerance < 0 {
		return fmt.Errorf("config: OPT_MAX_ITERATIONS and OPT_TOLERANCE must not be negative")
	}
	return nil
}

// DefaultMethod returns the parsed OPT_DEFAULT_METHOD, falling back to L-BFGS.
func (c *Config) DefaultMethod() solver.Method {
	m, err := solver.ParseMethod(c.Optimization.DefaultMethod)
	if err != nil {
		return solver.LBFGS
	}
	return m
}
