package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagbolade/munin-core/internal/agent"
	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/server"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Environment first; flags registered below override it.
	cfg      = server.LoadConfig()
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "munin",
	Short: "Local agent core: text in, policy-gated tool calls out",
	Long: `munin turns free text into tool calls, gates them through a fixed
policy table and reports every step as an ordered event sequence.

Supported requests:
  status
  read <path>
  write <path> :: <content>
  exec <command>
  get <url>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(logLevel)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&cfg.AutoApprove, "auto-approve", cfg.AutoApprove, "Run tools that require confirmation without asking (env MUNIN_AUTO_APPROVE)")
	flags.StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flags.StringVar(&cfg.PolicyFile, "policy-file", cfg.PolicyFile, "YAML policy overlay, reloaded on change (env POLICY_FILE)")
	flags.StringVar(&cfg.AuditDB, "audit-db", cfg.AuditDB, "SQLite audit journal path; empty disables it (env AUDIT_DB)")
	flags.StringVar(&cfg.BusDriver, "bus", cfg.BusDriver, "Message bus: none, memory, redis, rabbitmq (env BUS_DRIVER)")
	flags.StringVar(&cfg.BusURL, "bus-url", cfg.BusURL, "Message bus URL (env BUS_URL)")
	flags.StringVar(&cfg.BusQueue, "bus-queue", cfg.BusQueue, "Message bus queue name (env BUS_QUEUE)")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// core is the wired agent runtime plus the pieces the front ends expose.
type core struct {
	registry *tool.Registry
	engine   *policy.Engine
	runtime  *agent.Runtime
	journal  *audit.SQLiteStore
}

func buildCore(c server.Config) (*core, error) {
	registry := tool.NewDefaultRegistry()
	engine := policy.NewEngine(registry)

	if c.PolicyFile != "" {
		if err := engine.WatchOverlay(c.PolicyFile); err != nil {
			return nil, fmt.Errorf("policy overlay: %w", err)
		}
	}

	var opts []agent.Option
	var journal *audit.SQLiteStore
	if c.AuditDB != "" {
		log.Info().Str("path", c.AuditDB).Msg("initializing audit journal")
		store, err := audit.NewSQLiteStore(c.AuditDB)
		if err != nil {
			engine.Close()
			return nil, err
		}
		journal = store
		opts = append(opts, agent.WithJournal(store))
	}

	return &core{
		registry: registry,
		engine:   engine,
		runtime:  agent.New(engine, tool.NewRouter(registry), opts...),
		journal:  journal,
	}, nil
}

func (c *core) Close() {
	if err := c.engine.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close policy engine")
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit journal")
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
