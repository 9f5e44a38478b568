// Command transcriptd tracks one call's speech turns and uploads each
// completed utterance with its transcript.
//
// Usage:
//
//	transcriptd [flags]
//
// Framework events are read as JSON lines from --events ("-" for stdin).
// Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ai-voice-transcript-service/internal/app"
	"ai-voice-transcript-service/internal/config"
)

var (
	eventsPath   string
	callID       string
	roomID       string
	agentID      string
	roomMetadata string
	sinks        []string
	logOnly      bool
)

var rootCmd = &cobra.Command{
	Use:   "transcriptd",
	Short: "Track call speech turns and upload utterance transcripts",
	Long: `transcriptd reconciles speech-boundary events and transcription results
for a single call and uploads one record per completed utterance.

Examples:
  # Consume events from a file, logging records instead of uploading
  transcriptd --events call.jsonl --call-id call-123 --log-only

  # Pipe a simulated conversation
  eventclient --turns 6 | transcriptd --call-id demo --sinks log,kafka
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&eventsPath, "events", "-", `JSON-lines event source ("-" for stdin)`)
	f.StringVar(&callID, "call-id", "", "call id (overrides CALL_ID)")
	f.StringVar(&roomID, "room-id", "", "room id (overrides ROOM_ID)")
	f.StringVar(&agentID, "agent-id", "", "agent id (overrides AGENT_ID)")
	f.StringVar(&roomMetadata, "room-metadata", "", "room metadata JSON (overrides ROOM_METADATA)")
	f.StringSliceVar(&sinks, "sinks", nil, "upload sinks: http,log,kafka,s3 (overrides UPLOAD_SINKS)")
	f.BoolVar(&logOnly, "log-only", false, "log records instead of uploading")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Configuration) {
	f := cmd.Flags()
	if f.Changed("call-id") {
		cfg.Call.CallID = callID
	}
	if f.Changed("room-id") {
		cfg.Call.RoomID = roomID
	}
	if f.Changed("agent-id") {
		cfg.Call.AgentID = agentID
	}
	if f.Changed("room-metadata") {
		cfg.Call.RoomMetadata = roomMetadata
	}
	if f.Changed("sinks") {
		cfg.Sinks.Enabled = sinks
	}
	if f.Changed("log-only") {
		cfg.Sinks.LogOnly = logOnly
	}
}

func openEvents(path string) (io.ReadCloser, error) {
	if path == "-" || path == "" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	applyFlags(cmd, cfg)

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	in, err := openEvents(eventsPath)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}

	if err := application.Start(); err != nil {
		in.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, application, in, cfg.Upload.ShutdownTimeout+5*time.Second)
}

// serve routes events from in until the input ends or ctx is done, then
// shuts the application down. It returns without waiting for the reader:
// closing stdin does not interrupt a blocking read.
func serve(ctx context.Context, application *app.Application, in io.ReadCloser, shutdownTimeout time.Duration) error {
	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx, in)
	}()

	var err error
	select {
	case <-ctx.Done():
		application.Logger.Info().Msg("Shutdown signal received")
	case err = <-runErr:
		application.Logger.Info().Msg("Event input ended")
	}
	in.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	application.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
