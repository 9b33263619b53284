package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dagbolade/munin-core/internal/agent"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent [flags] <text>",
	Short: "Run one request and print its events as JSON lines",
	Long: `Run one request and print its events as JSON lines.

Flags go before the text; everything from the first word of text on is
passed through untouched, so "munin agent exec ls -la" works.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		c, err := buildCore(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		return runOneShot(ctx, c.runtime, strings.Join(args, " "), cfg.AutoApprove, cmd.OutOrStdout())
	},
}

func init() {
	// Stop flag parsing at the first word of the request.
	agentCmd.Flags().SetInterspersed(false)
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt; asks before running tools that need confirmation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		c, err := buildCore(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		return runREPL(ctx, c.runtime, c.registry.Catalog(), os.Stdin, cmd.OutOrStdout(), cfg.AutoApprove)
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tool.NewDefaultRegistry().Catalog())
	},
}

func runOneShot(ctx context.Context, rt *agent.Runtime, input string, autoApprove bool, out io.Writer) error {
	enc := json.NewEncoder(out)
	return rt.Stream(ctx, input, autoApprove, func(e protocol.Event) error {
		return enc.Encode(e)
	})
}

const replBanner = `munin agent REPL
Examples:
  status
  read /etc/hostname
  write /tmp/hello.txt :: hello from munin
  exec uptime
  get https://example.com
Type 'help' for the tool catalog, 'quit' to exit.
`

// runREPL reads one request per line. A call stopped at the confirmation
// gate can be approved interactively, which issues the same text again as
// a new call with auto-approve.
func runREPL(ctx context.Context, rt *agent.Runtime, catalog []tool.Entry, in io.Reader, out io.Writer, autoApprove bool) error {
	fmt.Fprint(out, replBanner)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.EqualFold(line, "quit") {
			break
		}
		if strings.EqualFold(line, "help") {
			printCatalog(out, catalog)
			continue
		}

		events, err := rt.Handle(ctx, line, autoApprove)
		printEvents(out, events)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "call aborted: %v\n", err)
			continue
		}

		if !autoApprove && awaitingConfirmation(events) {
			fmt.Fprint(out, "approve? [y/N] ")
			if !scanner.Scan() {
				break
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "skipped")
				continue
			}

			events, err = rt.Handle(ctx, line, true)
			printEvents(out, events)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				fmt.Fprintf(out, "call aborted: %v\n", err)
			}
		}
	}

	fmt.Fprintln(out)
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func awaitingConfirmation(events []protocol.Event) bool {
	n := len(events)
	if n < 2 {
		return false
	}
	call, last := events[n-2], events[n-1]
	return call.Type == protocol.EventToolCall && call.ToolCall.RequiresConfirmation &&
		last.Type == protocol.EventResponseText
}

func printEvents(out io.Writer, events []protocol.Event) {
	for _, e := range events {
		switch e.Type {
		case protocol.EventResponseText:
			fmt.Fprintln(out, e.Text)
		case protocol.EventError:
			fmt.Fprintf(out, "error: %s\n", e.Text)
		case protocol.EventToolCall:
			args, _ := json.Marshal(e.ToolCall.Args)
			fmt.Fprintf(out, "-> %s %s\n", e.ToolCall.Tool, args)
		case protocol.EventToolResult:
			output, _ := json.MarshalIndent(e.ToolResult.Output, "", "  ")
			status := "ok"
			if !e.ToolResult.OK {
				status = "failed"
			}
			fmt.Fprintf(out, "<- %s %s\n", status, output)
		case protocol.EventTranscript:
			fmt.Fprintf(out, "[%s] %s\n", e.Transcript.SessionID, e.Transcript.Transcript)
		}
	}
}

func printCatalog(out io.Writer, catalog []tool.Entry) {
	for _, entry := range catalog {
		gate := "runs directly"
		switch {
		case !entry.Rule.Allowed:
			gate = "denied"
		case entry.Rule.RequiresConfirmation:
			gate = "asks first"
		}
		if !entry.Executable {
			gate += ", reserved"
		}
		fmt.Fprintf(out, "  %-14s %s (%s)\n", entry.Name, entry.Description, gate)
	}
}
