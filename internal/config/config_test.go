package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxvaer/hhprobe/internal/model"
)

func validConfig() RunConfig {
	cfg := Default()
	cfg.URLs = []string{"https://example.com"}
	cfg.FQDNs = []string{"internal.example.com"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"ok", func(*RunConfig) {}, ""},
		{"no urls", func(c *RunConfig) { c.URLs = []string{"  "} }, "urls"},
		{"zero concurrency", func(c *RunConfig) { c.Concurrency = 0 }, "concurrency"},
		{"timeout too large", func(c *RunConfig) { c.TimeoutSeconds = 121 }, "timeout_seconds"},
		{"timeout at bound", func(c *RunConfig) { c.TimeoutSeconds = 120 }, ""},
		{"bad dns mode", func(c *RunConfig) { c.DNSMode = "some" }, "dns_mode"},
		{"bad mode", func(c *RunConfig) { c.Mode = "burst" }, "mode"},
		{"bad status", func(c *RunConfig) { c.StatusFilters = []int{404, 99} }, "status_filters"},
		{"bad attempt", func(c *RunConfig) { c.Attempt = 3 }, "attempt"},
		{"sequence without fqdns", func(c *RunConfig) {
			c.Mode = model.ModeSequence
			c.FQDNs = nil
		}, "fqdns"},
		{"sequence with dns all", func(c *RunConfig) {
			c.Mode = model.ModeSequence
			c.DNSMode = model.DNSAll
		}, "dns_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	cfg := validConfig()
	cfg.StatusFilters = []int{404}
	snap := cfg.Snapshot()

	cfg.URLs[0] = "https://changed.example"
	cfg.StatusFilters[0] = 500

	if snap.URLs[0] != "https://example.com" {
		t.Errorf("snapshot URL changed to %q", snap.URLs[0])
	}
	if snap.StatusFilters[0] != 404 {
		t.Errorf("snapshot filter changed to %d", snap.StatusFilters[0])
	}
}

func TestNormalize(t *testing.T) {
	cfg := RunConfig{
		URLs:          []string{" https://a.example ", "", "https://b.example"},
		StatusFilters: []int{404, 301, 404},
		Directories:   []string{"admin", ""},
	}
	cfg.Normalize()

	if len(cfg.URLs) != 2 || cfg.URLs[0] != "https://a.example" {
		t.Errorf("URLs = %v", cfg.URLs)
	}
	if len(cfg.StatusFilters) != 2 || cfg.StatusFilters[0] != 301 {
		t.Errorf("StatusFilters = %v", cfg.StatusFilters)
	}
	if len(cfg.Directories) != 2 {
		t.Errorf("blank directory entries must survive, got %v", cfg.Directories)
	}
	if cfg.Mode != model.ModeStandard || cfg.DNSMode != model.DNSFirst || cfg.Attempt != 1 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	content := `urls:
  - https://example.com
fqdns:
  - admin.example.com
concurrency: 10
dns_mode: all
auto_override_421: true
status_filters: [404, 500]
timeout_seconds: 7.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Concurrency != 10 || cfg.DNSMode != model.DNSAll || !cfg.Auto421 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.ApplyBlacklist {
		t.Error("default apply_blacklist should survive when not set in file")
	}
	if got := cfg.Timeout().Milliseconds(); got != 7500 {
		t.Errorf("Timeout = %dms, want 7500", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
