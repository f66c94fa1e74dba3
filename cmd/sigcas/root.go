package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agenthands/sigcas/pkg/auth"
	"github.com/agenthands/sigcas/pkg/config"
	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/logging"
	"github.com/agenthands/sigcas/pkg/sigcas"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	Config   string
	Dir      string
	Links    string
	LogLevel string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "sigcas",
	Short: "Content-addressable object store with signed mutable pointers",
	Long: `sigcas stores immutable objects under the SHA-256 of their content and lets
holders of a PUBSIG credential keep mutable pointers to them.

The configuration file is taken from --config or $SIGCAS_CONFIG. Store flags
given on the command line override the file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags(), &globalFlags)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signCmd)
}

func bindGlobalFlags(fs *pflag.FlagSet, f *GlobalFlags) {
	fs.StringVarP(&f.Config, "config", "c", "", "path to the YAML config file (default $"+config.EnvVar+")")
	fs.StringVarP(&f.Dir, "dir", "d", "", "object directory (overrides store.dir)")
	fs.StringVar(&f.Links, "links", "", "link backend: symlink or pebble (overrides store.links)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level (overrides log.level)")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*core.Config, error) {
	cfg, err := config.Load(globalFlags.Config)
	if err != nil {
		return nil, err
	}
	if globalFlags.Dir != "" {
		cfg.Store.Dir = globalFlags.Dir
	}
	if globalFlags.Links != "" {
		cfg.Store.Links = globalFlags.Links
	}
	if globalFlags.LogLevel != "" {
		cfg.Log.Level = globalFlags.LogLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// env bundles what most subcommands need.
type env struct {
	cfg   *core.Config
	log   *zap.Logger
	store sigcas.Store
	chain *auth.Chain
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	chain, err := auth.NewChainFromNames(cfg.Auth.Backends)
	if err != nil {
		return nil, err
	}
	store, err := sigcas.Open(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &env{cfg: cfg, log: log, store: store, chain: chain}, nil
}

func (e *env) Close() error {
	err := e.store.Close()
	_ = e.log.Sync()
	return err
}
