// Package config loads the sigcas YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agenthands/sigcas/pkg/auth"
	"github.com/agenthands/sigcas/pkg/core"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no path is given.
const EnvVar = "SIGCAS_CONFIG"

// Default returns the configuration used as a base before the file is read.
func Default() *core.Config {
	return &core.Config{
		Store: core.StoreConfig{
			Dir:   "./data",
			Links: core.LinksSymlink,
		},
		Auth: core.AuthConfig{
			Backends: []string{auth.MethodSecp256k1, auth.MethodEd25519},
		},
		Server: core.ServerConfig{
			Addr:              ":8787",
			MaxBodyBytes:      1 << 30,
			MaxInflight:       64,
			CompressResponses: true,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: core.LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Scrub: core.ScrubConfig{
			RunEvery: time.Hour,
		},
	}
}

// Load reads path, or the file named by SIGCAS_CONFIG when path is empty.
// With neither set the defaults are returned unchanged.
func Load(path string) (*core.Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cfg for errors and reports all of them at once.
func Validate(cfg *core.Config) error {
	var errs []error

	if cfg.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required"))
	}
	switch cfg.Store.Links {
	case "", core.LinksSymlink, core.LinksPebble:
	default:
		errs = append(errs, fmt.Errorf("store.links: unknown backend %q (supported: %s, %s)",
			cfg.Store.Links, core.LinksSymlink, core.LinksPebble))
	}

	if _, err := auth.NewChainFromNames(cfg.Auth.Backends); err != nil {
		errs = append(errs, fmt.Errorf("auth.backends: %w", err))
	}

	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Server.MetricsAddr != "" && cfg.Server.MetricsAddr == cfg.Server.Addr {
		errs = append(errs, errors.New("server.metrics_addr must differ from server.addr"))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must not be negative"))
	}
	if cfg.Server.MaxInflight < 0 {
		errs = append(errs, errors.New("server.max_inflight must not be negative"))
	}

	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (supported: json, console)", cfg.Log.Format))
	}

	if cfg.Scrub.Enabled && cfg.Scrub.RunEvery <= 0 {
		errs = append(errs, errors.New("scrub.run_every must be positive when scrub is enabled"))
	}

	return errors.Join(errs...)
}
