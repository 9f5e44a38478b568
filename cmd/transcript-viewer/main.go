// Command transcript-viewer shows utterance records from the Kafka
// utterance topic live in the browser.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/viewer"
)

var (
	addr    string
	brokers []string
	topic   string
	groupID string
	since   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "transcript-viewer",
	Short:         "Live browser view of uploaded utterances",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&addr, "addr", ":8081", "HTTP listen address")
	f.StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.StringVar(&topic, "topic", "call.transcript.utterance", "utterance topic")
	f.StringVar(&groupID, "group", "", "consumer group (empty reads partition 0 directly)")
	f.DurationVar(&since, "since", time.Hour, "without a group, replay this much history")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logging.Init(logging.Config{Level: "info", Format: "console", Service: "transcript-viewer"})
	logger := logging.WithComponent("transcript-viewer")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := viewer.NewHub()
	reader := viewer.NewReader(ctx, viewer.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
		Since:   since,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           viewer.Handler(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		viewer.Consume(gctx, reader, hub, time.Second)
		return nil
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", addr).
			Strs("brokers", brokers).
			Str("topic", topic).
			Msg("Transcript viewer starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
