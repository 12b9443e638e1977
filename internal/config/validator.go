package config

import (
	"fmt"
	"net"
	"strings"
	"time"
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

// Validate checks the configuration for errors and questionable settings.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateListener(&cfg.Listener, result)
	validateProtocol(cfg, result)

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Listener.Port {
			result.AddError("api.port", "API port conflicts with the client listener port")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Dump.Enabled && strings.TrimSpace(cfg.Dump.Directory) == "" {
		result.AddError("dump.directory", "dump directory is required when dumping is enabled")
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if cfg.Database.RetentionDays < 1 {
		result.AddWarning("database.retention_days", "session history is never pruned")
	}
	if _, _, ok := ParseClock(cfg.Database.CleanupTime); !ok {
		result.AddError("database.cleanup_time", fmt.Sprintf("expected HH:MM, got %q", cfg.Database.CleanupTime))
	}

	if cfg.Health.IntervalSeconds < 1 {
		result.AddError("health.interval_seconds", "health check interval must be at least 1 second")
	}
	if p := cfg.Health.QueueWarnPercent; p < 1 || p > 100 {
		result.AddError("health.queue_warn_percent", "must be between 1 and 100")
	}

	return result
}

func validateListener(l *ListenerConfig, result *ValidationResult) {
	if l.Host != "" && net.ParseIP(l.Host) == nil {
		result.AddError("listener.host", fmt.Sprintf("not an IP address: %s", l.Host))
	}
	validatePort(l.Port, "listener.port", result)

	if l.EventQueueSize < 1 {
		result.AddError("listener.event_queue_size", "event queue size must be at least 1")
	}
	if l.OutboundQueueSize < 1 {
		result.AddError("listener.outbound_queue_size", "outbound queue size must be at least 1")
	}
	if l.MaxConnections < 1 {
		result.AddWarning("listener.max_connections", "connection limit disabled")
	}
}

func validateProtocol(cfg *Config, result *ValidationResult) {
	if cfg.Protocol.ObjectsPerPacket < 1 {
		result.AddError("protocol.objects_per_packet", "must decode at least 1 object per packet")
	} else if cfg.Protocol.ObjectsPerPacket > 1 {
		result.AddWarning("protocol.objects_per_packet", "multi-object packets are unconfirmed")
	}

	widths, err := cfg.ParsedFieldWidths()
	if err != nil {
		result.AddError("protocol.field_widths", err.Error())
		return
	}
	for id, w := range widths {
		if w < -1 || w == 0 {
			result.AddError("protocol.field_widths", fmt.Sprintf("field 0x%04X has invalid width %d", id, w))
		}
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

// ParseClock parses a local "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
