package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultListenPort, cfg.Listener.Port)
	assert.FileExists(t, filepath.Join(dir, DefaultConfigFile))
	assert.True(t, Validate(cfg).IsValid())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"listener": {"port": 7777}, "protocol": {"field_widths": {"0x0010": -1}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Listener.Port)
	assert.Equal(t, 64, cfg.Listener.OutboundQueueSize)

	widths, err := cfg.ParsedFieldWidths()
	require.NoError(t, err)
	assert.Equal(t, map[uint16]int{0x0010: -1}, widths)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	cfg.API.Port = 0
	cfg.Protocol.ObjectsPerPacket = 0
	cfg.Protocol.FieldWidths = map[string]int{"nope": 4}
	cfg.MQTT.Enabled = true

	result := Validate(cfg)
	assert.False(t, result.IsValid())

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["listener.port"])
	assert.True(t, fields["protocol.objects_per_packet"])
	assert.True(t, fields["protocol.field_widths"])
	assert.True(t, fields["mqtt.broker_url"])
}

func TestValidate_MultiObjectWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol.ObjectsPerPacket = 2

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "protocol.objects_per_packet", result.Warnings[0].Field)
}

func TestValidate_Maintenance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.CleanupTime = "25:99"
	cfg.Database.RetentionDays = 0
	cfg.Health.IntervalSeconds = 0
	cfg.Health.QueueWarnPercent = 150

	result := Validate(cfg)
	assert.False(t, result.IsValid())

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["database.cleanup_time"])
	assert.True(t, fields["health.interval_seconds"])
	assert.True(t, fields["health.queue_warn_percent"])
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "database.retention_days", result.Warnings[0].Field)
}

func TestParseClock(t *testing.T) {
	hour, minute, ok := ParseClock("04:30")
	assert.True(t, ok)
	assert.Equal(t, 4, hour)
	assert.Equal(t, 30, minute)

	_, _, ok = ParseClock("4pm")
	assert.False(t, ok)
}
