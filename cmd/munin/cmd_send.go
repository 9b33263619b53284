package main

import (
	"fmt"
	"strings"

	"github.com/dagbolade/munin-core/internal/bus"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	sendSession string
	sendLocale  string
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] <text>",
	Short: "Publish a transcript to the message bus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		switch strings.ToLower(cfg.BusDriver) {
		case bus.DriverRedis, bus.DriverRabbitMQ:
		default:
			return fmt.Errorf("send needs a shared bus (--bus redis|rabbitmq), got %q", cfg.BusDriver)
		}

		queue, err := bus.Open(ctx, bus.Config{Driver: cfg.BusDriver, URL: cfg.BusURL, Queue: cfg.BusQueue})
		if err != nil {
			return fmt.Errorf("open bus: %w", err)
		}
		defer queue.Close()

		turn := protocol.SpeechTurn{
			SessionID:  sendSession,
			Transcript: strings.Join(args, " "),
			Locale:     sendLocale,
		}
		if turn.SessionID == "" {
			turn.SessionID = uuid.NewString()
		}

		if err := queue.Publish(ctx, turn); err != nil {
			return err
		}

		log.Info().Str("session_id", turn.SessionID).Str("bus", cfg.BusDriver).Msg("transcript published")
		fmt.Fprintln(cmd.OutOrStdout(), turn.SessionID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendSession, "session", "", "Session id (default: random)")
	sendCmd.Flags().StringVar(&sendLocale, "locale", "en-US", "Transcript locale")
	// The transcript may contain words like "-la".
	sendCmd.Flags().SetInterspersed(false)
}
