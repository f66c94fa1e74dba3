package main

import (
	"os/signal"
	"syscall"

	"github.com/agenthands/sigcas/pkg/router"
	"github.com/agenthands/sigcas/pkg/scrub"
	"github.com/agenthands/sigcas/pkg/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveFlags struct {
	Addr        string
	MetricsAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if cmd.Flags().Changed("addr") {
			e.cfg.Server.Addr = serveFlags.Addr
		}
		if cmd.Flags().Changed("metrics-addr") {
			e.cfg.Server.MetricsAddr = serveFlags.MetricsAddr
		}

		scrubber := scrub.NewRunner(e.cfg.Scrub, e.store, e.log.Named("scrub"))
		scrubber.Start(ctx)
		defer scrubber.Stop()

		e.log.Info("starting sigcas",
			zap.String("dir", e.cfg.Store.Dir),
			zap.String("links", e.cfg.Store.Links),
			zap.Strings("auth", e.chain.Methods()),
			zap.String("addr", e.cfg.Server.Addr),
			zap.String("metrics_addr", e.cfg.Server.MetricsAddr))

		rt := router.New(e.store, e.chain, e.log.Named("router"))
		srv := server.New(e.cfg.Server, rt, e.log.Named("http"))
		return srv.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Addr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveFlags.MetricsAddr, "metrics-addr", "", "metrics listen address (overrides server.metrics_addr)")
}

