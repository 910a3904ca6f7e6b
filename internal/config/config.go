// Package config loads rdelta settings.
//
// Configuration comes from a single YAML file named by the --config flag or
// the RDELTA_CONFIG environment variable. Keys absent from the file keep
// their defaults; command line flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/patchfile"
	"github.com/quantarax/deltasync/internal/validation"
)

// EnvConfigPath names the environment variable consulted when no path is given.
const EnvConfigPath = "RDELTA_CONFIG"

// MaxBlockSize bounds block_size so a single block always fits in memory.
const MaxBlockSize = 1 << 26

// Config holds rdelta configuration
type Config struct {
	// BlockSize is the base block size in bytes.
	BlockSize int `yaml:"block_size"`

	WeakAlgorithm   string `yaml:"weak_algorithm"`
	StrongAlgorithm string `yaml:"strong_algorithm"`

	// PatchFormat is "cbor" or "json".
	PatchFormat string `yaml:"patch_format"`

	// MaxLiteralRun caps a single literal command; 0 leaves runs unbounded.
	MaxLiteralRun int `yaml:"max_literal_run"`

	// CachePath is the signature cache database. Empty disables the cache.
	CachePath   string        `yaml:"cache_path"`
	CacheMaxAge time.Duration `yaml:"cache_max_age"`

	// RateLimit caps file reads in bytes per second; 0 is unlimited.
	RateLimit int64 `yaml:"rate_limit"`

	LogLevel      string `yaml:"log_level"`
	TraceEndpoint string `yaml:"trace_endpoint"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	cachePath := filepath.Join(homeDir, ".local", "share", "deltasync", "signatures.db")

	return &Config{
		BlockSize:       2048,
		WeakAlgorithm:   checksum.RollsumID,
		StrongAlgorithm: checksum.Blake3ID,
		PatchFormat:     string(patchfile.FormatCBOR),
		MaxLiteralRun:   0,
		CachePath:       cachePath,
		CacheMaxAge:     30 * 24 * time.Hour,
		LogLevel:        "info",
	}
}

// LoadConfig reads path over the defaults. An empty path falls back to
// RDELTA_CONFIG, and if that is unset too the defaults are returned as is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var problems []error
	check := func(field string, err error) {
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("block_size", validation.ValidateRangeInt(c.BlockSize, 1, MaxBlockSize))
	check("weak_algorithm", validation.ValidateOneOf(c.WeakAlgorithm, checksum.WeakIDs()))
	check("strong_algorithm", validation.ValidateOneOf(c.StrongAlgorithm, checksum.StrongIDs()))
	check("patch_format", validation.ValidateOneOf(c.PatchFormat,
		[]string{string(patchfile.FormatCBOR), string(patchfile.FormatJSON)}))
	if c.MaxLiteralRun < 0 {
		check("max_literal_run", fmt.Errorf("%w: %d is negative", validation.ErrOutOfRange, c.MaxLiteralRun))
	}
	if c.RateLimit < 0 {
		check("rate_limit", fmt.Errorf("%w: %d is negative", validation.ErrOutOfRange, c.RateLimit))
	}
	if c.CacheMaxAge < 0 {
		check("cache_max_age", fmt.Errorf("%w: %s is negative", validation.ErrOutOfRange, c.CacheMaxAge))
	}
	check("log_level", validation.ValidateOneOf(c.LogLevel,
		[]string{"trace", "debug", "info", "warn", "error", "disabled"}))

	return errors.Join(problems...)
}
