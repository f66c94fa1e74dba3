package core

import (
	"time"
)

const (
	LinksSymlink = "symlink"
	LinksPebble  = "pebble"
)

type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Auth   AuthConfig   `yaml:"auth"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Scrub  ScrubConfig  `yaml:"scrub"`
}

type StoreConfig struct {
	Dir   string `yaml:"dir"`   // flat object directory
	Links string `yaml:"links"` // "symlink" (default) or "pebble"

	// CatalogDir holds the pebble link catalog. Defaults to <Dir>/.catalog.
	CatalogDir string `yaml:"catalog_dir"`

	Fsync bool `yaml:"fsync"` // fsync staged objects before placement
}

type AuthConfig struct {
	// Backends in priority order. Known names: secp256k1, ed25519, mock.
	Backends []string `yaml:"backends"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	SpoolDir          string        `yaml:"spool_dir"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	MaxInflight       int           `yaml:"max_inflight"`
	CompressResponses bool          `yaml:"compress_responses"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	File       string `yaml:"file"`   // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ScrubConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RunEvery time.Duration `yaml:"run_every"`
}
