package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SKYENGINE_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window.View != ViewHeadless {
		t.Fatalf("view = %q, want headless", cfg.Window.View)
	}
	if cfg.Frame.Tick != 50*time.Millisecond {
		t.Fatalf("tick = %v, want 50ms", cfg.Frame.Tick)
	}
	if cfg.Photometry.Bortle != 3 {
		t.Fatalf("bortle = %d, want 3", cfg.Photometry.Bortle)
	}
	if cfg.Data.Constellations != "builtin:western" {
		t.Fatalf("constellations = %q", cfg.Data.Constellations)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[window]
view = "term"
width = 640
height = 384

[observer]
latitude = 43.6
longitude = 1.44
elevation = 150
start = "2024-03-01T20:00:00Z"

[frame]
tick = "1s"
accelerated = true

[data]
tle = "/tmp/stations.txt"
`)
	t.Setenv("SKYENGINE_PHOTOMETRY_BORTLE", "7")
	t.Setenv("SKYENGINE_CONTROL_ADDR", "127.0.0.1:7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window.View != ViewTerm || cfg.Window.Width != 640 {
		t.Fatalf("window = %+v", cfg.Window)
	}
	if cfg.Observer.Latitude != 43.6 || cfg.Observer.Elevation != 150 {
		t.Fatalf("observer = %+v", cfg.Observer)
	}
	if cfg.Frame.Tick != time.Second || !cfg.Frame.Accelerated {
		t.Fatalf("frame = %+v", cfg.Frame)
	}
	if cfg.Photometry.Bortle != 7 {
		t.Fatalf("bortle = %d, want env override 7", cfg.Photometry.Bortle)
	}
	if cfg.Control.Addr != "127.0.0.1:7000" {
		t.Fatalf("control addr = %q", cfg.Control.Addr)
	}
	if cfg.Data.TLE != "/tmp/stations.txt" || cfg.Data.Stars != ":memory:" {
		t.Fatalf("data = %+v", cfg.Data)
	}
	start, err := cfg.Observer.StartTime(time.Now())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !start.Equal(time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", start)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SKYENGINE_CONFIG", "")
	base, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"view", func(c *Config) { c.Window.View = "gl" }, "unknown view"},
		{"latitude", func(c *Config) { c.Observer.Latitude = 91 }, "latitude"},
		{"bortle", func(c *Config) { c.Photometry.Bortle = 0 }, "bortle"},
		{"tick", func(c *Config) { c.Frame.Tick = 0 }, "tick"},
		{"start", func(c *Config) { c.Observer.Start = "yesterday" }, "observer start"},
		{"size", func(c *Config) { c.Window.Width = 0 }, "window size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
