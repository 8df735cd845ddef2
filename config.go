package changecore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures a process hosting change-managed objects. It is the
// YAML-loadable counterpart of the teacher's StorageConfig
// (internal/storage/storage_backend.go): one struct covering retention
// defaults, frame limits, and queue sizing, with a mode-sensitive default
// constructor.
type Config struct {
	// DefaultChangeType names the change type cmd/changenode gives the
	// objects it sets up (resolved through ChangeType).
	DefaultChangeType string `yaml:"default_change_type"`

	// AutoObsoleteCount is the default retention count (spec §4.3). Under
	// count-versions it excludes the head version; under count-commits the
	// head is one of the counted records. Zero disables auto-obsoletion.
	AutoObsoleteCount uint32 `yaml:"auto_obsolete_count"`

	// AutoObsoletePolicy selects "count-versions" or "count-commits".
	AutoObsoletePolicy string `yaml:"auto_obsolete_policy"`

	// MaxPayloadBytes is the frame size limit enforced on commit
	// (ErrPayloadTooLarge). Zero means no limit.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	// QueueSize is the buffer depth of each object's command queue in
	// internal/dispatch.
	QueueSize int `yaml:"queue_size"`

	// SweepInterval controls how often the background retention sweeper
	// (internal/version.Sweeper) runs. Zero disables the sweeper; callers
	// must then rely solely on auto-obsolete-on-commit and explicit
	// Obsolete calls.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// DefaultStorageConfig(mode).
func DefaultConfig() Config {
	return Config{
		DefaultChangeType:  "delta",
		AutoObsoleteCount:  1,
		AutoObsoletePolicy: "count-versions",
		MaxPayloadBytes:    64 * 1024 * 1024, // 64 MB
		QueueSize:          256,
		SweepInterval:      30 * time.Second,
	}
}

// LoadConfig reads a YAML config file, overlaying it on top of
// DefaultConfig so a partial file only needs to set the fields it wants to
// change.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("changecore: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("changecore: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ChangeType resolves DefaultChangeType, falling back to DELTA if unset or
// invalid.
func (c Config) ChangeType() ChangeType {
	if c.DefaultChangeType == "" {
		return DELTA
	}
	t, err := ParseChangeType(c.DefaultChangeType)
	if err != nil {
		return DELTA
	}
	return t
}

// ObsoletePolicy resolves AutoObsoletePolicy, falling back to CountVersions.
func (c Config) ObsoletePolicy() AutoObsoletePolicy {
	if c.AutoObsoletePolicy == "count-commits" {
		return CountCommits
	}
	return CountVersions
}
