package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"probe": {"max_duration": "15s", "chunk_size": 4096},
		"targets": [{"name": "cdn", "url": "https://example.com/big.bin"}],
		"schedule": {"enabled": true, "spec": "30m"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if d, err := cfg.Probe.MaxDurationValue(); err != nil || d != 15*time.Second {
		t.Fatalf("MaxDurationValue = %v, %v", d, err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed snapshot")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {}, "probe": {}, "schedule": {}, "bogus": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {}, "probe": {}, "schedule": {}} {"again": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseYAMLCoercion(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
probe:
  max_duration: 20s
schedule:
  enabled: false
targets:
  - name: nearby
    url: example.com/speed
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if cfg.Probe.MaxDuration != "20s" {
		t.Fatalf("MaxDuration = %q", cfg.Probe.MaxDuration)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "nearby" {
		t.Fatalf("targets = %+v", cfg.Targets)
	}
}

func TestValidateNormalizesTargets(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Targets: []TargetConfig{{URL: "example.com/downloads"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Targets[0].URL != "https://example.com/downloads/" {
		t.Fatalf("URL not normalized: %q", cfg.Targets[0].URL)
	}
	if cfg.Targets[0].Name == "" {
		t.Fatal("expected a derived target name")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad duration", cfg: Config{Probe: ProbeConfig{MaxDuration: "soon"}}},
		{name: "empty target url", cfg: Config{Targets: []TargetConfig{{Name: "x"}}}},
		{
			name: "duplicate target names",
			cfg: Config{Targets: []TargetConfig{
				{Name: "a", URL: "https://example.com/1.bin"},
				{Name: "a", URL: "https://example.com/2.bin"},
			}},
		},
		{name: "schedule without spec", cfg: Config{Schedule: ScheduleConfig{Enabled: true}}},
		{name: "notify without token", cfg: Config{Notify: &NotifyConfig{Enabled: true, ChatID: 1}}},
		{name: "notify without chat", cfg: Config{Notify: &NotifyConfig{Enabled: true, Token: "t"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
