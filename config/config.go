// Package config loads the named channels a deployment wants to run
// and the runtime tunables governing them (spec §6's enumerated
// knobs). Channel geometry comes from a TOML file; the tunables layer
// environment-variable overrides on top via caarlos0/env, the same
// two-tier pattern the teacher's exchange config used for static
// symbol maps versus live credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/pylabhub/hub/backoff"
	"github.com/pylabhub/hub/hub"
)

// ChannelSpec describes one named channel a deployment expects to
// exist, as declared in the TOML config file.
type ChannelSpec struct {
	Name             string `toml:"name"`
	SlotCount        uint64 `toml:"slot_count"`
	SlotSize         uint64 `toml:"slot_size"`
	FlexibleZoneSize uint64 `toml:"flex_zone_size"`
	SchemaValidation bool   `toml:"schema_validation"`
}

// Tunables mirrors spec §6's enumerated environment/config knobs. TOML
// supplies the file default; any field also tagged with env can be
// overridden by setting that variable, without touching the file.
type Tunables struct {
	WriterPatienceNS        uint64 `toml:"writer_patience_ns" env:"PYLABHUB_WRITER_PATIENCE_NS"`
	ReaderTimeoutNS         uint64 `toml:"reader_timeout_ns" env:"PYLABHUB_READER_TIMEOUT_NS"`
	AcquireDefaultTimeoutMS int64  `toml:"acquire_default_timeout_ms" env:"PYLABHUB_ACQUIRE_DEFAULT_TIMEOUT_MS"`
	BackoffSpinIters        int    `toml:"backoff_spin_iters" env:"PYLABHUB_BACKOFF_SPIN_ITERS"`
	BackoffShortUS          int64  `toml:"backoff_short_us" env:"PYLABHUB_BACKOFF_SHORT_US"`
	BackoffLongMultiplierUS int64  `toml:"backoff_long_multiplier" env:"PYLABHUB_BACKOFF_LONG_MULTIPLIER"`
}

// DefaultTunables mirrors hub.DefaultTunables expressed in the units
// the config file uses (nanoseconds/microseconds/milliseconds rather
// than time.Duration, since TOML and env vars carry plain integers).
var DefaultTunables = Tunables{
	WriterPatienceNS:        uint64(time.Millisecond),
	ReaderTimeoutNS:         uint64(5 * time.Second),
	AcquireDefaultTimeoutMS: 100,
	BackoffSpinIters:        4,
	BackoffShortUS:          1,
	BackoffLongMultiplierUS: 10,
}

// Config is the top-level shape of the TOML config file.
type Config struct {
	Channels []ChannelSpec `toml:"channels"`
	Tunables Tunables      `toml:"tunables"`
}

// Load reads path, applies environment overrides to the tunables
// section, and validates that every declared channel has a non-empty
// name and non-zero slot geometry.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	c := Config{Tunables: DefaultTunables}
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := env.Parse(&c.Tunables); err != nil {
		return nil, fmt.Errorf("config: environment overlay: %w", err)
	}

	for _, ch := range c.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("config: channel with empty name in %s", path)
		}
		if ch.SlotCount == 0 || ch.SlotSize == 0 {
			return nil, fmt.Errorf("config: channel %q: slot_count and slot_size must be non-zero", ch.Name)
		}
	}

	return &c, nil
}

// Channel returns the declared spec for name, or false if no channel
// with that name was declared.
func (c *Config) Channel(name string) (ChannelSpec, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelSpec{}, false
}

// ChannelConfig converts a ChannelSpec into hub.ChannelConfig. Schema
// hashes are left zero here; callers that enable schema validation
// attach them via schema.Of[T]() before creating the producer.
func (s ChannelSpec) ChannelConfig() hub.ChannelConfig {
	return hub.ChannelConfig{
		SlotCount:        s.SlotCount,
		SlotSize:         s.SlotSize,
		FlexibleZoneSize: s.FlexibleZoneSize,
		SchemaValidation: s.SchemaValidation,
	}
}

// HubTunables converts the config-file representation into
// hub.Tunables.
func (t Tunables) HubTunables() hub.Tunables {
	return hub.Tunables{
		WriterPatienceNS:        t.WriterPatienceNS,
		ReaderTimeoutNS:         t.ReaderTimeoutNS,
		AcquireDefaultTimeoutMS: t.AcquireDefaultTimeoutMS,
		Backoff: backoff.Config{
			SpinIters:      t.BackoffSpinIters,
			ShortSleep:     time.Duration(t.BackoffShortUS) * time.Microsecond,
			LongMultiplier: time.Duration(t.BackoffLongMultiplierUS) * time.Microsecond,
			LongCap:        backoff.DefaultConfig.LongCap,
		},
	}
}
