package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config invalid: %v", result.Errors)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rampart.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if cfg.GetNetwork().Port != DefaultPort {
		t.Errorf("port = %d", cfg.GetNetwork().Port)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		file string
		body string
	}{
		{"rampart.json", `{"network": {"port": 28000}, "sound": {"max_clips_per_owner": 7}}`},
		{"rampart.toml", "[network]\nport = 28000\n\n[sound]\nmax_clips_per_owner = 7\n"},
		{"rampart.yaml", "network:\n  port: 28000\nsound:\n  max_clips_per_owner: 7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.GetNetwork().Port != 28000 || cfg.GetSound().MaxClipsPerOwner != 7 {
				t.Errorf("overlay not applied: %+v %+v", cfg.GetNetwork(), cfg.GetSound())
			}
			// Untouched fields keep their defaults.
			if cfg.GetSound().AddCooldownSec != 30 || cfg.GetAdmin().CommandPrefix != "!" {
				t.Errorf("defaults lost: %+v", cfg.GetSound())
			}

			// The re-saved file loads to the same values.
			again, err := Load(path)
			if err != nil {
				t.Fatalf("second Load() error = %v", err)
			}
			if again.GetNetwork().Port != 28000 || again.GetSound().MaxClipsPerOwner != 7 {
				t.Errorf("re-saved file lost values")
			}
		})
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rampart.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() of malformed file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.Network.Port = 70000 }, "network.port"},
		{"tick", func(c *Config) { c.Network.TickIntervalMS = 0 }, "network.tick_interval_ms"},
		{"bind", func(c *Config) { c.Network.BindAddress = "nowhere" }, "network.bind_address"},
		{"prefix clash", func(c *Config) { c.Admin.CommandPrefix = "@" }, "admin.command_prefix"},
		{"no schemes", func(c *Config) { c.Sound.AllowedSchemes = nil }, "sound.allowed_schemes"},
		{"zero clips", func(c *Config) { c.Sound.MaxClipsPerOwner = 0 }, "sound.max_clips_per_owner"},
		{"bitrate", func(c *Config) { c.Sound.Bitrate = 100 }, "sound.bitrate"},
		{"db path", func(c *Config) { c.Database.Path = " " }, "database.path"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)
			if result.IsValid() {
				t.Fatalf("Validate() accepted config")
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %v, want field %s", result.Errors, tt.field)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Enabled = false
	cfg.Network.BindAddress = "0.0.0.0"

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("Validate() errors = %v", result.Errors)
	}
	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	joined := strings.Join(fields, ",")
	if !strings.Contains(joined, "database.enabled") || !strings.Contains(joined, "network.bind_address") {
		t.Errorf("warnings = %v", fields)
	}
}
