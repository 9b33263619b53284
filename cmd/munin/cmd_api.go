package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dagbolade/munin-core/internal/auth"
	"github.com/dagbolade/munin-core/internal/bus"
	"github.com/dagbolade/munin-core/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API and, with --bus, consume transcripts from the message bus",
	Args:  cobra.NoArgs,
	RunE:  runAPI,
}

func init() {
	apiCmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address (env MUNIN_LISTEN)")
	apiCmd.Flags().IntVar(&cfg.BusWorkers, "bus-workers", cfg.BusWorkers, "Concurrent bus consumers (env BUS_WORKERS)")
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info().Bool("required", cfg.RequireAuth).Msg("initializing auth manager")
	authManager := auth.NewManager(auth.Config{
		JWTSecret:   cfg.JWTSecret,
		RequireAuth: cfg.RequireAuth,
	})

	deps := server.Deps{
		Agent:   c.runtime,
		Catalog: c.registry,
		Auth:    authManager,
	}
	if c.journal != nil {
		deps.Audit = c.journal
	}
	srv := server.New(cfg, deps)

	queue, err := bus.Open(ctx, bus.Config{Driver: cfg.BusDriver, URL: cfg.BusURL, Queue: cfg.BusQueue})
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	if queue != nil {
		defer queue.Close()

		dispatcher := bus.NewDispatcher(c.runtime, bus.MultiSink{srv.Hub(), bus.LogSink{}}, cfg.AutoApprove)
		go func() {
			if err := dispatcher.Run(ctx, queue, cfg.BusWorkers); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("bus consumer stopped")
			}
		}()
	}

	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
