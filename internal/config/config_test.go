package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"civicdesk/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default("civicdesk")
	if cfg.Service.ID != "civicdesk" {
		t.Fatalf("unexpected service id: %q", cfg.Service.ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.SLA.Hours["High"] != 24 || cfg.SLA.Hours["Medium"] != 72 || cfg.SLA.Hours["Low"] != 168 {
		t.Fatalf("unexpected SLA windows: %+v", cfg.SLA.Hours)
	}
	if len(cfg.Departments) == 0 {
		t.Fatal("expected default departments")
	}
	if len(cfg.Bot.FAQ) == 0 || len(cfg.Bot.Fallbacks) == 0 {
		t.Fatal("expected default FAQ and fallbacks")
	}
	if cfg.Geocode.Parts != 3 {
		t.Fatalf("unexpected geocode parts: %d", cfg.Geocode.Parts)
	}
}

func TestSLAHoursFallback(t *testing.T) {
	cfg := config.Default("civicdesk")
	if got := cfg.SLAHours("High"); got != 24 {
		t.Fatalf("High: expected 24, got %d", got)
	}
	if got := cfg.SLAHours("Whatever"); got != 168 {
		t.Fatalf("unknown priority should fall back to Low, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"missing service id", func(c *config.Config) { c.Service.ID = "" }, "service.id"},
		{"no sla hours", func(c *config.Config) { c.SLA.Hours = nil }, "sla.hours"},
		{"negative sla", func(c *config.Config) { c.SLA.Hours["High"] = -1 }, "must be positive"},
		{"missing Low", func(c *config.Config) { delete(c.SLA.Hours, "Low") }, "must include Low"},
		{"blank department", func(c *config.Config) { c.Departments = []string{"Roads", " "} }, "departments[1]"},
		{"negative parts", func(c *config.Config) { c.Geocode.Parts = -1 }, "parts"},
		{"faq without keywords", func(c *config.Config) { c.Bot.FAQ[0].Keywords = nil }, "no keywords"},
		{"faq without reply", func(c *config.Config) { c.Bot.FAQ[0].Reply = "" }, "empty reply"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("civicdesk")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	yml := config.GenerateDefault("ward-12")
	if err := os.WriteFile(filepath.Join(dir, "civicdesk.yml"), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.ID != "ward-12" {
		t.Fatalf("unexpected service id: %q", cfg.Service.ID)
	}
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir)
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected pointer to config init, got %v", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional on missing file: cfg=%v err=%v", cfg, err)
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("service: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := config.FromYAML([]byte("service:\n  id: x\n")); err == nil {
		t.Fatal("expected validation error for missing sla")
	}
}
