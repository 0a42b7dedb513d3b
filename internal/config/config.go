// Package config holds the run configuration of the indexer. A Config is
// built once, validated, and passed down explicitly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the project root.
const FileName = ".codegraph.yaml"

// Persistence modes.
const (
	ModeBatched = "batched"
	ModeBulk    = "bulk"
	ModeDirect  = "direct"
)

// Config is the complete run configuration.
type Config struct {
	Parse       Parse       `yaml:"parse"`
	Cache       Cache       `yaml:"cache"`
	Ignore      Ignore      `yaml:"ignore"`
	Resolution  Resolution  `yaml:"resolution"`
	Persistence Persistence `yaml:"persistence"`
	Store       Store       `yaml:"store"`
}

// Parse configures the parallel parse phase.
type Parse struct {
	// Workers is clamped to [2, 8]; 0 means runtime.NumCPU().
	Workers     int           `yaml:"workers" validate:"gte=0,lte=64"`
	FileTimeout time.Duration `yaml:"file_timeout" validate:"gte=0"`
	// ExtractInWorkers moves import and call extraction into the workers,
	// removing the coordinator re-parse.
	ExtractInWorkers bool  `yaml:"extract_in_workers"`
	ContentMaxBytes  int   `yaml:"content_max_bytes" validate:"gte=0"`
	MaxFileBytes     int64 `yaml:"max_file_bytes" validate:"gte=0"`
}

// Cache configures the syntax tree cache.
type Cache struct {
	Capacity int `yaml:"capacity" validate:"gte=1"`
}

// Ignore configures file discovery.
type Ignore struct {
	Patterns         []string `yaml:"patterns"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
}

// Resolution configures call resolution.
type Resolution struct {
	SameFileMethodBonus float64 `yaml:"same_file_method_bonus" validate:"gte=0"`
	KindMatchBonus      float64 `yaml:"kind_match_bonus" validate:"gte=0"`
	SiblingBonus        float64 `yaml:"sibling_bonus" validate:"gte=0"`
	MediumThreshold     float64 `yaml:"medium_threshold"`
	// BuiltinsFile replaces the embedded builtin denylist.
	BuiltinsFile string `yaml:"builtins_file"`
}

// Persistence configures the write path to the durable store.
type Persistence struct {
	Mode                string        `yaml:"mode" validate:"oneof=batched bulk direct"`
	BatchSize           int           `yaml:"batch_size" validate:"gte=1"`
	BulkChunkRows       int           `yaml:"bulk_chunk_rows" validate:"gte=1"`
	LargeChunkRows      int           `yaml:"large_chunk_rows" validate:"gte=1"`
	LargeContentBytes   int           `yaml:"large_content_bytes" validate:"gte=0"`
	MaxConcurrentWrites int           `yaml:"max_concurrent_writes" validate:"gte=1"`
	RetryAttempts       int           `yaml:"retry_attempts" validate:"gte=1"`
	RetryDelay          time.Duration `yaml:"retry_delay" validate:"gte=0"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	StagingDir          string        `yaml:"staging_dir"`
}

// Store configures the durable graph store.
type Store struct {
	// Path of the SQLite file; empty keeps the store in memory.
	Path string `yaml:"path"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Parse: Parse{
			FileTimeout:     30 * time.Second,
			ContentMaxBytes: 4096,
			MaxFileBytes:    2 << 20,
		},
		Cache:  Cache{Capacity: 50},
		Ignore: Ignore{RespectGitignore: true},
		Resolution: Resolution{
			SameFileMethodBonus: 2,
			KindMatchBonus:      0.5,
			SiblingBonus:        1,
			MediumThreshold:     1,
		},
		Persistence: Persistence{
			Mode:                ModeBatched,
			BatchSize:           500,
			BulkChunkRows:       1000,
			LargeChunkRows:      250,
			LargeContentBytes:   2048,
			MaxConcurrentWrites: 8,
			RetryAttempts:       3,
			RetryDelay:          100 * time.Millisecond,
			ShutdownTimeout:     10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// Decode reads YAML over the defaults and validates the result.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseWorkers returns the worker count clamped to [2, 8].
func (c Config) ParseWorkers() int {
	n := c.Parse.Workers
	if n == 0 {
		n = runtime.NumCPU()
	}
	return min(max(n, 2), 8)
}
