package bufferpool

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Policy names one of the three interchangeable replacement policies.
type Policy string

const (
	PolicyFIFO  Policy = "fifo"
	PolicyLRU   Policy = "lru"
	PolicyCLOCK Policy = "clock"
)

// CompressionAlg names the optional on-disk write-back compression.
type CompressionAlg string

const (
	CompressionNone   CompressionAlg = "none"
	CompressionSnappy CompressionAlg = "snappy"
	CompressionLZ4    CompressionAlg = "lz4"
)

// Config holds buffer pool configuration.
type Config struct {
	// PageFile is the path to the backing page file.
	PageFile string `json:"page_file"`
	// Capacity is the number of frames in the pool.
	Capacity uint32 `json:"capacity"`
	// Policy selects the replacement policy.
	Policy Policy `json:"policy"`
	// PageSize is the fixed page size in bytes.
	PageSize uint32 `json:"page_size"`
	// WriteCompression selects the on-disk write-back codec, applied by the
	// default BlockStore implementations only; the pin/unpin protocol always
	// sees decompressed PageSize-byte buffers.
	WriteCompression CompressionAlg `json:"write_compression"`
	// UseDirectIO selects DirectIOBlockStore over the default buffered store.
	UseDirectIO bool `json:"use_direct_io"`
	// RefusePinnedShutdown makes Shutdown fail with PinnedOnShutdown while
	// any frame is pinned, rather than proceeding and leaving dirty pinned
	// frames unwritten.
	RefusePinnedShutdown bool `json:"refuse_pinned_shutdown"`
	// LogLevel names a slog level (debug, info, warn, error). Validate checks
	// it, but OpenWithConfig does not apply it: the pool logs through the
	// logger it is given.
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config with sane defaults: 100 frames, LRU
// replacement, the default page size, no compression, and shutdown refusal
// on outstanding pins.
func DefaultConfig() *Config {
	return &Config{
		PageFile:             "pool.db",
		Capacity:             100,
		Policy:               PolicyLRU,
		PageSize:             DefaultPageSize,
		WriteCompression:     CompressionNone,
		UseDirectIO:          false,
		RefusePinnedShutdown: true,
		LogLevel:             "info",
	}
}

// LoadConfigFromFile reads a JSON configuration file, applying it on top of
// DefaultConfig(), and validates the result.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv starts from DefaultConfig() and overrides any field for
// which a BUFPOOL_* environment variable is set.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if val := os.Getenv("BUFPOOL_PAGE_FILE"); val != "" {
		config.PageFile = val
	}
	if val := os.Getenv("BUFPOOL_CAPACITY"); val != "" {
		if capacity, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.Capacity = uint32(capacity)
		}
	}
	if val := os.Getenv("BUFPOOL_POLICY"); val != "" {
		config.Policy = Policy(val)
	}
	if val := os.Getenv("BUFPOOL_PAGE_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PageSize = uint32(size)
		}
	}
	if val := os.Getenv("BUFPOOL_WRITE_COMPRESSION"); val != "" {
		config.WriteCompression = CompressionAlg(val)
	}
	if val := os.Getenv("BUFPOOL_USE_DIRECT_IO"); val != "" {
		config.UseDirectIO = val == "true" || val == "1"
	}
	if val := os.Getenv("BUFPOOL_REFUSE_PINNED_SHUTDOWN"); val != "" {
		config.RefusePinnedShutdown = val == "true" || val == "1"
	}
	if val := os.Getenv("BUFPOOL_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Capacity == 0 {
		return fmt.Errorf("capacity must be greater than 0")
	}
	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than 0")
	}
	if c.PageSize%512 != 0 {
		return fmt.Errorf("page size must be a multiple of 512")
	}
	if c.PageFile == "" {
		return fmt.Errorf("page file cannot be empty")
	}

	switch c.Policy {
	case PolicyFIFO, PolicyLRU, PolicyCLOCK:
	default:
		return fmt.Errorf("invalid policy: %s (must be fifo, lru, or clock)", c.Policy)
	}

	switch c.WriteCompression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return fmt.Errorf("invalid write_compression: %s (must be none, snappy, or lz4)", c.WriteCompression)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
