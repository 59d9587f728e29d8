// Package config handles configuration loading, validation, and persistence
// for rampart. The file format follows the extension: .json, .toml or
// .yaml/.yml.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/rampart-project/rampart/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "rampart.json"
	DefaultPort       = 27970
	DefaultAPIPort    = 8091
)

// DefaultPath is the config file used when no --config flag is given.
var DefaultPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)

// Config is the root configuration structure for rampart.
type Config struct {
	mu   sync.RWMutex
	path string

	Network  NetworkConfig  `json:"network" toml:"network" yaml:"network"`
	Admin    AdminConfig    `json:"admin" toml:"admin" yaml:"admin"`
	Sound    SoundConfig    `json:"sound" toml:"sound" yaml:"sound"`
	Database DatabaseConfig `json:"database" toml:"database" yaml:"database"`
	API      APIConfig      `json:"api" toml:"api" yaml:"api"`
	MQTT     MQTTConfig     `json:"mqtt" toml:"mqtt" yaml:"mqtt"`
	Logging  LoggingConfig  `json:"logging" toml:"logging" yaml:"logging"`
	Timers   TimerConfig    `json:"timers" toml:"timers" yaml:"timers"`
}

// NetworkConfig holds the engine-facing UDP socket settings.
type NetworkConfig struct {
	BindAddress     string `json:"bind_address" toml:"bind_address" yaml:"bind_address"`
	Port            int    `json:"port" toml:"port" yaml:"port"`
	ReadBufferBytes int    `json:"read_buffer_bytes" toml:"read_buffer_bytes" yaml:"read_buffer_bytes"`
	TickIntervalMS  int    `json:"tick_interval_ms" toml:"tick_interval_ms" yaml:"tick_interval_ms"`
}

// Addr returns host:port for the UDP listener.
func (n NetworkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.BindAddress, n.Port)
}

// AdminConfig holds admin command settings.
type AdminConfig struct {
	CommandPrefix string `json:"command_prefix" toml:"command_prefix" yaml:"command_prefix"`
	BotMarker     string `json:"bot_marker" toml:"bot_marker" yaml:"bot_marker"`
}

// SoundConfig holds the clip library and voice policy.
type SoundConfig struct {
	Root              string   `json:"root" toml:"root" yaml:"root"`
	MaxClipsPerOwner  int      `json:"max_clips_per_owner" toml:"max_clips_per_owner" yaml:"max_clips_per_owner"`
	AddCooldownSec    int      `json:"add_cooldown_sec" toml:"add_cooldown_sec" yaml:"add_cooldown_sec"`
	DownloadQueueSize int      `json:"download_queue_size" toml:"download_queue_size" yaml:"download_queue_size"`
	MaxDownloadBytes  int64    `json:"max_download_bytes" toml:"max_download_bytes" yaml:"max_download_bytes"`
	DownloadTimeout   int      `json:"download_timeout_sec" toml:"download_timeout_sec" yaml:"download_timeout_sec"`
	MaxURLLength      int      `json:"max_url_length" toml:"max_url_length" yaml:"max_url_length"`
	AllowedSchemes    []string `json:"allowed_schemes" toml:"allowed_schemes" yaml:"allowed_schemes"`
	MaxDurationSec    int      `json:"max_duration_sec" toml:"max_duration_sec" yaml:"max_duration_sec"`
	Bitrate           int      `json:"bitrate" toml:"bitrate" yaml:"bitrate"`
	QuickPrefixes     string   `json:"quick_prefixes" toml:"quick_prefixes" yaml:"quick_prefixes"`
	ShareTTLSec       int      `json:"share_ttl_sec" toml:"share_ttl_sec" yaml:"share_ttl_sec"`
}

// DatabaseConfig holds the external query store settings.
type DatabaseConfig struct {
	Enabled        bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Path           string `json:"path" toml:"path" yaml:"path"`
	QueryTimeoutMS int    `json:"query_timeout_ms" toml:"query_timeout_ms" yaml:"query_timeout_ms"`
}

// QueryTimeout returns the per-call store deadline.
func (d DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutMS) * time.Millisecond
}

// APIConfig holds the local status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" toml:"enabled" yaml:"enabled"`
	BindAddress    string   `json:"bind_address" toml:"bind_address" yaml:"bind_address"`
	Port           int      `json:"port" toml:"port" yaml:"port"`
	RateLimitRPS   int      `json:"rate_limit_rps" toml:"rate_limit_rps" yaml:"rate_limit_rps"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns host:port for the HTTP listener.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.BindAddress, a.Port)
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	BrokerURL   string `json:"broker_url" toml:"broker_url" yaml:"broker_url"`
	Port        int    `json:"port" toml:"port" yaml:"port"`
	ClientID    string `json:"client_id" toml:"client_id" yaml:"client_id"`
	UseTLS      bool   `json:"use_tls" toml:"use_tls" yaml:"use_tls"`
	CertFile    string `json:"cert_file" toml:"cert_file" yaml:"cert_file"`
	KeyFile     string `json:"key_file" toml:"key_file" yaml:"key_file"`
	TopicPrefix string `json:"topic_prefix" toml:"topic_prefix" yaml:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`
	Directory  string `json:"directory" toml:"directory" yaml:"directory"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	Console    bool   `json:"console" toml:"console" yaml:"console"`
}

// LogConfig converts the section for util.InitLogger.
func (l LoggingConfig) LogConfig() util.LogConfig {
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxBackups: l.MaxBackups,
		Console:    l.Console,
	}
}

// TimerConfig holds housekeeping intervals.
type TimerConfig struct {
	ExpirySweepSec    int `json:"expiry_sweep_sec" toml:"expiry_sweep_sec" yaml:"expiry_sweep_sec"`
	PartialCleanupSec int `json:"partial_cleanup_sec" toml:"partial_cleanup_sec" yaml:"partial_cleanup_sec"`
	StoreHealthSec    int `json:"store_health_sec" toml:"store_health_sec" yaml:"store_health_sec"`
	DiskCheckSec      int `json:"disk_check_sec" toml:"disk_check_sec" yaml:"disk_check_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		path: DefaultPath,
		Network: NetworkConfig{
			BindAddress:     "127.0.0.1",
			Port:            DefaultPort,
			ReadBufferBytes: 1 << 20,
			TickIntervalMS:  10,
		},
		Admin: AdminConfig{
			CommandPrefix: "!",
			BotMarker:     "[bot]",
		},
		Sound: SoundConfig{
			Root:              "sounds",
			MaxClipsPerOwner:  25,
			AddCooldownSec:    30,
			DownloadQueueSize: 3,
			MaxDownloadBytes:  2 << 20,
			DownloadTimeout:   20,
			MaxURLLength:      512,
			AllowedSchemes:    []string{"http", "https"},
			MaxDurationSec:    10,
			Bitrate:           24000,
			QuickPrefixes:     "@#$",
			ShareTTLSec:       120,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Path:           filepath.Join("data", "rampart.db"),
			QueryTimeoutMS: 250,
		},
		API: APIConfig{
			Enabled:        true,
			BindAddress:    "127.0.0.1",
			Port:           DefaultAPIPort,
			RateLimitRPS:   10,
			AllowedOrigins: []string{},
		},
		MQTT: MQTTConfig{
			Port:        8883,
			UseTLS:      true,
			TopicPrefix: "rampart",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
		Timers: TimerConfig{
			ExpirySweepSec:    60,
			PartialCleanupSec: 600,
			StoreHealthSec:    30,
			DiskCheckSec:      300,
		},
	}
}

// Load reads configuration from path. A missing file is created with the
// defaults. Values in the file overlay the defaults, and the result is
// written back so new options show up in existing files.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.path = path
	log.Info().Str("path", path).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch format(path) {
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func marshal(path string, cfg *Config) ([]byte, error) {
	switch format(path) {
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "yaml":
		return yaml.Marshal(cfg)
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := marshal(c.path, c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetNetwork returns a copy of the network section.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetAdmin returns a copy of the admin section.
func (c *Config) GetAdmin() AdminConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Admin
}

// GetSound returns a copy of the sound section.
func (c *Config) GetSound() SoundConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Sound
	s.AllowedSchemes = append([]string(nil), c.Sound.AllowedSchemes...)
	return s
}

// GetDatabase returns a copy of the database section.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.API
	a.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return a
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// SetLogLevel overrides the configured log level, as the --log-level flag does.
func (c *Config) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging.Level = level
}

// GetTimers returns a copy of the timers section.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}
