// Package config loads and validates the room mapper configuration from an
// optional YAML file overlaid by command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lidarworks/roommapper/internal/mapper"
)

// SensorConfig selects and tunes the sensor connection.
type SensorConfig struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// Mock replaces the hardware with the simulated room device.
	Mock bool `yaml:"mock"`
}

// PipelineConfig tunes the acquisition pipeline.
type PipelineConfig struct {
	MaxDistanceMM  float64 `yaml:"max_distance_mm"`
	MinQuality     int     `yaml:"min_quality"`
	StoreCapacity  int     `yaml:"store_capacity"`
	Decimation     int     `yaml:"decimation_factor"`
	ErrorThreshold int     `yaml:"consecutive_error_threshold"`
	TickIntervalMS int     `yaml:"tick_interval_ms"`
}

// TickInterval returns the scheduler cadence as a duration.
func (p PipelineConfig) TickInterval() time.Duration {
	return time.Duration(p.TickIntervalMS) * time.Millisecond
}

// Config is the full configuration surface.
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	// DBPath is the SQLite session database; empty disables persistence.
	DBPath string `yaml:"db_path"`
	// Listen is the HTTP API address.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Sensor: SensorConfig{
			Port: "/dev/ttyUSB0",
		},
		Pipeline: PipelineConfig{
			MaxDistanceMM:  8000,
			MinQuality:     1,
			StoreCapacity:  mapper.DefaultStoreCapacity,
			Decimation:     mapper.DefaultDecimationFactor,
			ErrorThreshold: mapper.DefaultErrorThreshold,
			TickIntervalMS: int(mapper.DefaultTickInterval / time.Millisecond),
		},
		DBPath: "roommapper.db",
		Listen: ":8080",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and clamps the store capacity to the supported
// operational window.
func (c *Config) Validate() error {
	p := &c.Pipeline
	if p.MaxDistanceMM < mapper.MinFilterDistanceMM || p.MaxDistanceMM > mapper.MaxFilterDistanceMM {
		return fmt.Errorf("max_distance_mm %v outside %v-%v",
			p.MaxDistanceMM, mapper.MinFilterDistanceMM, mapper.MaxFilterDistanceMM)
	}
	if p.MinQuality < 0 || p.MinQuality > 255 {
		return fmt.Errorf("min_quality %d outside 0-255", p.MinQuality)
	}
	if p.Decimation < 1 {
		return fmt.Errorf("decimation_factor %d must be >= 1", p.Decimation)
	}
	if p.ErrorThreshold < 1 {
		return fmt.Errorf("consecutive_error_threshold %d must be >= 1", p.ErrorThreshold)
	}
	if p.TickIntervalMS <= 0 {
		return fmt.Errorf("tick_interval_ms %d must be positive", p.TickIntervalMS)
	}
	if p.StoreCapacity < mapper.MinStoreCapacity {
		p.StoreCapacity = mapper.MinStoreCapacity
	}
	if p.StoreCapacity > mapper.MaxStoreCapacity {
		p.StoreCapacity = mapper.MaxStoreCapacity
	}
	if !c.Sensor.Mock && c.Sensor.Port == "" {
		return fmt.Errorf("sensor.port is required unless sensor.mock is set")
	}
	return nil
}

// Filter returns the acceptance filter described by the configuration.
func (c *Config) Filter() mapper.FilterConfig {
	return mapper.FilterConfig{
		MaxDistanceMM: c.Pipeline.MaxDistanceMM,
		MinQuality:    uint8(c.Pipeline.MinQuality),
	}
}
