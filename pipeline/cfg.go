package pipeline

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/telering/common/go/logging"
	"github.com/yanet-platform/telering/ringbuf"
)

// Config represents the main configuration structure for the pipeline.
type Config struct {
	// Ring configures the shared arena.
	Ring RingConfig `yaml:"ring"`
	// Pump configures the synthetic telemetry pump.
	Pump PumpConfig `yaml:"pump"`
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
}

// RingConfig contains settings for the underlying ring buffer.
type RingConfig struct {
	// Capacity is the arena size; it is rounded up to a power of two.
	Capacity datasize.ByteSize `yaml:"capacity"`
	// BackpressureThreshold is the fill ratio at which producers are
	// shed. Zero keeps the built-in default.
	BackpressureThreshold float64 `yaml:"backpressure_threshold"`
}

// PumpConfig contains settings for the producer/consumer pump.
type PumpConfig struct {
	// Producers is the number of concurrent producer goroutines.
	Producers int `yaml:"producers"`
	// Messages is the number of records each producer emits; zero means
	// pump until the context is cancelled.
	Messages int `yaml:"messages"`
	// PayloadSize is the size of each record payload.
	PayloadSize datasize.ByteSize `yaml:"payload_size"`
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ring: RingConfig{
			Capacity: ringbuf.DefaultCapacity,
		},
		Pump: PumpConfig{
			Producers:   4,
			Messages:    10000,
			PayloadSize: 256 * datasize.B,
		},
	}
}
