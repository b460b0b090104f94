package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty listen addr",
			mutate: func(cfg *Config) {
				cfg.ListenAddr = ""
			},
			wantErr: "listen address",
		},
		{
			name: "empty stock base url",
			mutate: func(cfg *Config) {
				cfg.Credentials.StockBaseURL = ""
			},
			wantErr: "stock base URL",
		},
		{
			name: "catalog url without host",
			mutate: func(cfg *Config) {
				cfg.Credentials.CatalogBaseURL = "http://"
			},
			wantErr: "catalog base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.RequestTimeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero max workers",
			mutate: func(cfg *Config) {
				cfg.MaxWorkers = 0
			},
			wantErr: "max workers",
		},
		{
			name: "workers above cap",
			mutate: func(cfg *Config) {
				cfg.MaxWorkers = 500
			},
			wantErr: "worker cap",
		},
		{
			name: "negative cache ttl",
			mutate: func(cfg *Config) {
				cfg.CacheTTL = -1 * time.Second
			},
			wantErr: "cache ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KTW_CREDENTIALS_USERNAME", "shop_manager1")
	t.Setenv("KTW_MAX_WORKERS", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credentials.Username != "shop_manager1" {
		t.Errorf("username = %q, want shop_manager1", cfg.Credentials.Username)
	}
	if cfg.MaxWorkers != 25 {
		t.Errorf("max workers = %d, want 25", cfg.MaxWorkers)
	}
}

func TestLoadDiscountTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xconfig.json")
	body := `{"brand_ratios": {"BrandX": 0.85, "makita": 0.9}, "default_ratio": 0.95}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	table, err := LoadDiscountTable(path)
	if err != nil {
		t.Fatalf("load discount table: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("entries = %d, want 2", table.Len())
	}
	if got := table.Ratio("BRANDX"); !got.Equal(decimal.RequireFromString("0.85")) {
		t.Errorf("ratio for BRANDX = %s, want 0.85", got)
	}
	if got := table.DefaultRatio(); !got.Equal(decimal.RequireFromString("0.95")) {
		t.Errorf("default ratio = %s, want 0.95", got)
	}
}

func TestLoadDiscountTableRejectsBadRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xconfig.json")
	if err := os.WriteFile(path, []byte(`{"brand_ratios": {"x": 1.5}, "default_ratio": 0.95}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadDiscountTable(path); err == nil {
		t.Fatalf("expected error for ratio above 1")
	}
}

func TestLoadDiscountTableMissingFile(t *testing.T) {
	if _, err := LoadDiscountTable(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
