// Package config loads the pipeline's environment-variable surface (PG_HOST, PG_PORT,
// ..., HTTPBIN_URL, LOG_LEVEL, MOCK_CPU_LOAD) into a single typed struct via
// caarlos0/env struct tags. godotenv optionally loads a .env file first, so a local
// run doesn't require exporting every variable by hand.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env is the environment-sourced half of the pipeline's configuration: upstream
// connection details, the remote callee's base URL, and the two tuning/debug knobs.
type Env struct {
	PGHost     string `env:"PG_HOST" envDefault:"localhost"`
	PGPort     int    `env:"PG_PORT" envDefault:"5432"`
	PGUser     string `env:"PG_USER" envDefault:"postgres"`
	PGPassword string `env:"PG_PASSWORD" envDefault:""`
	PGDatabase string `env:"PG_DATABASE" envDefault:"postgres"`

	HTTPBinURL string `env:"HTTPBIN_URL" envDefault:"http://localhost:8080"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MockCPULoad bool   `env:"MOCK_CPU_LOAD" envDefault:"false"`
}

// Load reads a .env file if present (silently ignored if absent: a deployed pipeline
// is expected to have its environment set by the container runtime instead) and then
// parses the process environment into an Env.
func Load() (*Env, error) {
	_ = godotenv.Load() // optional; real env vars still win below regardless

	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return &e, nil
}

// Getenv returns the environment variable value if set, otherwise defaultValue. Used
// by the handful of call sites (the SQLite path default, the HTTP observability
// address) that don't belong in the typed Env struct because they're CLI-overridable
// rather than purely environment-sourced.
func Getenv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
