package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarworks/roommapper/internal/mapper"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.Decimation != 3 || cfg.Pipeline.ErrorThreshold != 3 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roommapper.yaml")
	body := `
sensor:
  port: /dev/ttyUSB1
  mock: true
pipeline:
  max_distance_mm: 6000
  decimation_factor: 2
  tick_interval_ms: 25
listen: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyUSB1", cfg.Sensor.Port)
	assert.True(t, cfg.Sensor.Mock)
	assert.Equal(t, 6000.0, cfg.Pipeline.MaxDistanceMM)
	assert.Equal(t, 2, cfg.Pipeline.Decimation)
	assert.Equal(t, 25*time.Millisecond, cfg.Pipeline.TickInterval())
	assert.Equal(t, ":9090", cfg.Listen)

	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Pipeline.ErrorThreshold)
	assert.Equal(t, "roommapper.db", cfg.DBPath)
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"distance too small", func(c *Config) { c.Pipeline.MaxDistanceMM = 500 }},
		{"distance too large", func(c *Config) { c.Pipeline.MaxDistanceMM = 20000 }},
		{"zero decimation", func(c *Config) { c.Pipeline.Decimation = 0 }},
		{"zero error threshold", func(c *Config) { c.Pipeline.ErrorThreshold = 0 }},
		{"zero tick", func(c *Config) { c.Pipeline.TickIntervalMS = 0 }},
		{"no port no mock", func(c *Config) { c.Sensor.Port = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateClampsCapacity(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.StoreCapacity = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Pipeline.StoreCapacity != mapper.MinStoreCapacity {
		t.Errorf("capacity = %d, want clamped to %d", cfg.Pipeline.StoreCapacity, mapper.MinStoreCapacity)
	}

	cfg.Pipeline.StoreCapacity = 10_000_000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Pipeline.StoreCapacity != mapper.MaxStoreCapacity {
		t.Errorf("capacity = %d, want clamped to %d", cfg.Pipeline.StoreCapacity, mapper.MaxStoreCapacity)
	}
}
