package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("IMPORT_BATCH_SIZE", "25"); err != nil {
		t.Fatalf("Failed to set IMPORT_BATCH_SIZE: %v", err)
	}
	if err := os.Setenv("IMPORT_FETCH_RETRY_DELAY", "5s"); err != nil {
		t.Fatalf("Failed to set IMPORT_FETCH_RETRY_DELAY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("IMPORT_BATCH_SIZE")
		_ = os.Unsetenv("IMPORT_FETCH_RETRY_DELAY")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Importer.BatchSize != 25 {
		t.Errorf("Importer.BatchSize = %v, want %v", cfg.Importer.BatchSize, 25)
	}

	if cfg.Importer.FetchRetryDelay != 5*time.Second {
		t.Errorf("Importer.FetchRetryDelay = %v, want %v", cfg.Importer.FetchRetryDelay, 5*time.Second)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Chain.APIBaseURL == "" {
		t.Error("Chain.APIBaseURL should have a default")
	}
	if cfg.Importer.BatchSize <= 0 {
		t.Errorf("Importer.BatchSize = %v, want positive default", cfg.Importer.BatchSize)
	}
	if cfg.Importer.FetchRetries <= 0 {
		t.Errorf("Importer.FetchRetries = %v, want positive default", cfg.Importer.FetchRetries)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{name: "parses integer", envValue: "42", defaultValue: 7, want: 42},
		{name: "falls back on empty", envValue: "", defaultValue: 7, want: 7},
		{name: "falls back on garbage", envValue: "not-a-number", defaultValue: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "STAKE_SCANNER_TEST_INT"
			if tt.envValue != "" {
				if err := os.Setenv(key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env: %v", err)
				}
				defer func() { _ = os.Unsetenv(key) }()
			}

			if got := getEnvAsInt(key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}
