package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateNetwork(&cfg.Network, result)
	validateAdmin(&cfg.Admin, &cfg.Sound, result)
	validateSound(&cfg.Sound, result)
	validateDatabase(&cfg.Database, result)
	validateAPI(&cfg.API, cfg.Network.Port, result)
	validateMQTT(&cfg.MQTT, result)
	validateTimers(&cfg.Timers, result)

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	validatePort(n.Port, "network.port", result)

	if ip := net.ParseIP(n.BindAddress); ip == nil {
		result.AddError("network.bind_address", fmt.Sprintf("not an IP address: %q", n.BindAddress))
	} else if !ip.IsLoopback() {
		result.AddWarning("network.bind_address",
			"engine socket is reachable from other hosts; bind to 127.0.0.1 unless the engine runs elsewhere")
	}

	if n.TickIntervalMS < 1 || n.TickIntervalMS > 100 {
		result.AddError("network.tick_interval_ms", "tick interval must be between 1 and 100 ms")
	}
	if n.ReadBufferBytes < 65536 {
		result.AddWarning("network.read_buffer_bytes", "small receive buffers drop datagrams under load")
	}
}

func validateAdmin(a *AdminConfig, s *SoundConfig, result *ValidationResult) {
	if len(a.CommandPrefix) != 1 {
		result.AddError("admin.command_prefix", "command prefix must be a single character")
		return
	}
	if strings.Contains(s.QuickPrefixes, a.CommandPrefix) {
		result.AddError("admin.command_prefix",
			fmt.Sprintf("command prefix %q is also a quick command prefix", a.CommandPrefix))
	}
}

func validateSound(s *SoundConfig, result *ValidationResult) {
	if strings.TrimSpace(s.Root) == "" {
		result.AddError("sound.root", "sound root directory is required")
	}

	positive := map[string]int{
		"sound.max_clips_per_owner":  s.MaxClipsPerOwner,
		"sound.download_queue_size":  s.DownloadQueueSize,
		"sound.download_timeout_sec": s.DownloadTimeout,
		"sound.max_url_length":       s.MaxURLLength,
		"sound.max_duration_sec":     s.MaxDurationSec,
		"sound.share_ttl_sec":        s.ShareTTLSec,
	}
	for field, v := range positive {
		if v < 1 {
			result.AddError(field, "must be at least 1")
		}
	}
	if s.MaxDownloadBytes < 1 {
		result.AddError("sound.max_download_bytes", "must be at least 1")
	}
	if s.AddCooldownSec < 0 {
		result.AddError("sound.add_cooldown_sec", "must not be negative")
	}

	if len(s.AllowedSchemes) == 0 {
		result.AddError("sound.allowed_schemes", "at least one URL scheme is required")
	}
	for _, scheme := range s.AllowedSchemes {
		if scheme != "http" && scheme != "https" {
			result.AddWarning("sound.allowed_schemes",
				fmt.Sprintf("scheme %q is not supported by the download worker", scheme))
		}
	}

	if s.Bitrate < 6000 || s.Bitrate > 510000 {
		result.AddError("sound.bitrate", "bitrate must be between 6000 and 510000")
	}
	if s.QuickPrefixes == "" {
		result.AddWarning("sound.quick_prefixes", "quick commands are disabled")
	}
	if s.MaxDurationSec > 60 {
		result.AddWarning("sound.max_duration_sec", "long clips hold the single voice stream for a long time")
	}
}

func validateDatabase(d *DatabaseConfig, result *ValidationResult) {
	if !d.Enabled {
		result.AddWarning("database.enabled", "store disabled: permissions fall back to levels and nothing is audited")
		return
	}
	if strings.TrimSpace(d.Path) == "" {
		result.AddError("database.path", "database path is required when enabled")
	}
	if d.QueryTimeoutMS < 1 {
		result.AddError("database.query_timeout_ms", "must be at least 1")
	} else if d.QueryTimeoutMS > 1000 {
		result.AddWarning("database.query_timeout_ms", "long query timeouts stall the drive loop")
	}
}

func validateAPI(a *APIConfig, udpPort int, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == udpPort {
		result.AddWarning("api.port", "API and engine socket share a port number")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateTimers(t *TimerConfig, result *ValidationResult) {
	if t.ExpirySweepSec < 1 {
		result.AddError("timers.expiry_sweep_sec", "must be at least 1")
	}
	if t.PartialCleanupSec < 1 {
		result.AddError("timers.partial_cleanup_sec", "must be at least 1")
	}
	if t.StoreHealthSec < 5 {
		result.AddWarning("timers.store_health_sec", "store health checks more often than every 5s add load")
	}
	if t.DiskCheckSec < 10 {
		result.AddWarning("timers.disk_check_sec", "disk check interval less than 10s is wasteful")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
