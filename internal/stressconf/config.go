// Package stressconf loads the configuration of the nbmap-stress tool.
//
// Sources are applied with priority: overrides (flags) > env > file > Default().
package stressconf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "NBMAP_"

// Key kinds.
const (
	KeyKindSeq  = "seq"
	KeyKindULID = "ulid"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("stressconf: invalid config")

// Config describes one stress run.
type Config struct {
	// Writers is the number of goroutines inserting keys.
	Writers int `koanf:"writers"`
	// Keys is the number of distinct keys each writer inserts.
	Keys int `koanf:"keys"`
	// RemoveEvery removes every n-th key right after inserting it; 0 disables removal.
	RemoveEvery int `koanf:"remove_every"`
	// InitialCapacity is passed to nbmap.WithPresize.
	InitialCapacity int `koanf:"initial_capacity"`
	// Readers is the number of goroutines taking snapshots.
	Readers int `koanf:"readers"`
	// SnapshotRate caps snapshots per second per reader; 0 is unlimited.
	SnapshotRate float64 `koanf:"snapshot_rate"`
	// KeyKind selects the key generator: seq or ulid.
	KeyKind string `koanf:"key_kind"`
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string `koanf:"metrics_addr"`
	// LogLevel is an hclog level name.
	LogLevel string `koanf:"log_level"`
}

// Default returns the configuration used when no source sets a value.
func Default() Config {
	return Config{
		Writers:         8,
		Keys:            10000,
		RemoveEvery:     4,
		InitialCapacity: 16,
		Readers:         2,
		SnapshotRate:    50,
		KeyKind:         KeyKindSeq,
		LogLevel:        "info",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Writers <= 0:
		return fmt.Errorf("%w: writers must be positive, got %d", ErrInvalidConfig, c.Writers)
	case c.Keys <= 0:
		return fmt.Errorf("%w: keys must be positive, got %d", ErrInvalidConfig, c.Keys)
	case c.RemoveEvery < 0:
		return fmt.Errorf("%w: remove_every must not be negative, got %d", ErrInvalidConfig, c.RemoveEvery)
	case c.InitialCapacity < 0:
		return fmt.Errorf("%w: initial_capacity must not be negative, got %d", ErrInvalidConfig, c.InitialCapacity)
	case c.Readers < 0:
		return fmt.Errorf("%w: readers must not be negative, got %d", ErrInvalidConfig, c.Readers)
	case c.SnapshotRate < 0:
		return fmt.Errorf("%w: snapshot_rate must not be negative, got %g", ErrInvalidConfig, c.SnapshotRate)
	case c.KeyKind != KeyKindSeq && c.KeyKind != KeyKindULID:
		return fmt.Errorf("%w: key_kind must be %q or %q, got %q", ErrInvalidConfig, KeyKindSeq, KeyKindULID, c.KeyKind)
	}
	return nil
}

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load applies the file, the environment and then overrides on top of
// Default(), and validates the result. Keys in overrides use the koanf
// tag names.
func (l *Loader) Load(overrides map[string]any) (Config, error) {
	cfg := Default()

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	// NBMAP_INITIAL_CAPACITY -> initial_capacity
	envTransformer := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", envTransformer), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(mapProvider(overrides), nil); err != nil {
			return cfg, fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := l.k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("stressconf: ReadBytes not supported by map provider")

// mapProvider is a koanf provider over an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
