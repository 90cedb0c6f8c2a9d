// Package config loads the TOML configuration for the shmrecord demo
// binaries (cmd/shmrecord-writer, cmd/shmrecord-reader): which named
// regions to open, their slot count, and the writer's publish interval.
// The record schema itself is fixed in the binaries, not configured. It
// follows the teacher's own feeder/config package — same library
// (go-toml/v2), same top-level map-of-named-sections shape — generalized
// from exchanges to regions.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level document: one RegionConfig per named region.
type Config struct {
	Regions map[string]RegionConfig `toml:"regions"`
}

// RegionConfig describes one shmrecord region a demo binary should open
// or create.
type RegionConfig struct {
	Enabled bool `toml:"enabled"`
	// Slots selects single-slot (1, the default) or ring mode (>1).
	Slots int `toml:"slots"`
	// IntervalMS is how often the writer publishes a new record, in
	// milliseconds.
	IntervalMS int `toml:"interval_ms"`
}

// Interval returns cfg.IntervalMS as a time.Duration, defaulting to
// 100ms when unset.
func (r RegionConfig) Interval() time.Duration {
	if r.IntervalMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(r.IntervalMS) * time.Millisecond
}

const defaultDocument = `# shmrecord demo configuration
[regions.telemetry]
enabled = true
slots = 1
interval_ms = 100
`

// Load reads and parses the TOML config at path. It first loads a .env
// file from the current working directory (if present), mirroring the
// teacher's dotenv-before-config
// convention, so overrides are available via os.Getenv to callers that
// read it after Load returns.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &c, nil
}

// EnsureDefault writes a starter config document to path if nothing
// exists there yet. The write is atomic (rename-into-place via
// natefinch/atomic) so a concurrently starting process never observes a
// half-written file.
func EnsureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}

	return atomic.WriteFile(path, strings.NewReader(defaultDocument))
}
