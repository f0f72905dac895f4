// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of a conversion run.
type Config struct {
	DatabaseDSN string // optional, enables SQL sources and the error store
	OutputDir   string
	MappingDir  string
	QueryDir    string
	ListenAddr  string
	Timezone    string
	DateFormat  string
	Workers     int
}

// Load reads the environment, optionally seeded from a .env file.
func Load() (*Config, error) {
	// Missing .env is fine, settings may come from the real environment.
	_ = godotenv.Load(".env")

	cfg := &Config{
		DatabaseDSN: os.Getenv("FHIRFLAT_DB_DSN"),
		OutputDir:   envOr("FHIRFLAT_OUTPUT_DIR", "output"),
		MappingDir:  envOr("FHIRFLAT_MAPPING_DIR", "mappings"),
		QueryDir:    os.Getenv("FHIRFLAT_QUERY_DIR"),
		ListenAddr:  envOr("FHIRFLAT_LISTEN_ADDR", ":8080"),
		Timezone:    envOr("FHIRFLAT_TIMEZONE", "UTC"),
		DateFormat:  envOr("FHIRFLAT_DATE_FORMAT", "%Y-%m-%d"),
		Workers:     runtime.NumCPU(),
	}

	if w := os.Getenv("FHIRFLAT_WORKERS"); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid FHIRFLAT_WORKERS value %q", w)
		}
		cfg.Workers = n
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
