// Package config handles configuration loading, validation, and persistence
// for the login server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir    = "config"
	DefaultConfigFile   = "config.json"
	DefaultListenPort   = 9000
	DefaultAPIPort      = 9080
	DefaultDatabasePath = "config/sessions.db"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Listener   ListenerConfig   `json:"listener"`
	ServerInfo ServerInfoConfig `json:"server_info"`
	Protocol   ProtocolConfig   `json:"protocol"`
	Dump       DumpConfig       `json:"dump"`
	Database   DatabaseConfig   `json:"database"`
	API        APIConfig        `json:"api"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Health     HealthConfig     `json:"health"`
	Logging    LoggingConfig    `json:"logging"`
}

// ListenerConfig controls the client TCP listener and per-connection queues.
type ListenerConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	EventQueueSize    int    `json:"event_queue_size"`
	OutboundQueueSize int    `json:"outbound_queue_size"`
	MaxConnections    int    `json:"max_connections"`
}

// ServerInfoConfig describes this server to connecting clients.
type ServerInfoConfig struct {
	FirstID     uint32 `json:"first_id"`
	SecondID    uint32 `json:"second_id"`
	Description string `json:"description"`
	MOTD        string `json:"motd"`
}

// ProtocolConfig tunes packet decoding.
type ProtocolConfig struct {
	// ObjectsPerPacket is the number of objects decoded from each logical packet.
	ObjectsPerPacket int `json:"objects_per_packet"`

	// FieldWidths maps enum field ids ("0x0010") to value widths in bytes.
	// A width of -1 marks a uint16-length-prefixed string.
	FieldWidths map[string]int `json:"field_widths"`
}

// DumpConfig controls the diagnostic raw packet dump.
type DumpConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
	QueueSize int    `json:"queue_size"`
	// KeepFiles is the number of daily dump files retained.
	KeepFiles int `json:"keep_files"`
}

// DatabaseConfig holds the session history database location.
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	// CleanupTime is the local "HH:MM" at which old sessions are pruned.
	CleanupTime string `json:"cleanup_time"`
}

// HealthConfig controls the periodic self checks.
type HealthConfig struct {
	IntervalSeconds  int    `json:"interval_seconds"`
	QueueWarnPercent int    `json:"queue_warn_percent"`
	MaxRSSMB         uint64 `json:"max_rss_mb"`
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:              "0.0.0.0",
			Port:              DefaultListenPort,
			EventQueueSize:    1024,
			OutboundQueueSize: 64,
			MaxConnections:    1000,
		},
		ServerInfo: ServerInfoConfig{
			Description: "Login server",
			MOTD:        "Welcome!",
		},
		Protocol: ProtocolConfig{
			ObjectsPerPacket: 1,
			FieldWidths:      map[string]int{},
		},
		Dump: DumpConfig{
			Enabled:   false,
			Directory: "dumps",
			QueueSize: 4096,
			KeepFiles: 7,
		},
		Database: DatabaseConfig{
			Path:          DefaultDatabasePath,
			RetentionDays: 30,
			CleanupTime:   "04:00",
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 50,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
		},
		Health: HealthConfig{
			IntervalSeconds:  15,
			QueueWarnPercent: 80,
			MaxRSSMB:         2048,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from configDir, creating a default file when missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // defaults first, then overlay the file
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist any fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerInfo returns a copy of the server info section.
func (c *Config) GetServerInfo() ServerInfoConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerInfo
}

// SetMOTD updates the message of the day sent to new clients.
func (c *Config) SetMOTD(motd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerInfo.MOTD = motd
}

// ParsedFieldWidths converts the field width table keys to numeric ids.
func (c *Config) ParsedFieldWidths() (map[uint16]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[uint16]int, len(c.Protocol.FieldWidths))
	for key, width := range c.Protocol.FieldWidths {
		id, err := strconv.ParseUint(key, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid field id %q: %w", key, err)
		}
		out[uint16(id)] = width
	}
	return out, nil
}

// ListenAddr returns the client listener address.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Listener.Host, c.Listener.Port)
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
