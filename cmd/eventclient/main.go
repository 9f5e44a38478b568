// Command eventclient writes a simulated voice-agent conversation as
// JSON-lines framework events, for piping into transcriptd.
//
// Usage:
//
//	eventclient [flags] | transcriptd --call-id demo --log-only
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ai-voice-transcript-service/internal/events"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/simulate"
)

var (
	turns     int
	seed      uint64
	orderings []string
	speed     float64
	output    string
	lateDelay time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "eventclient",
	Short: "Emit a simulated conversation as framework events",
	Long: `eventclient scripts alternating agent and user turns and writes them as
JSON-lines events. Each turn's final transcript lands before end of speech,
after it, never, or after the tracker timeout, as chosen by --orderings.

Examples:
  # Ten turns covering every ordering, at double speed
  eventclient --turns 10 --speed 2

  # Only late transcripts, written to a file
  eventclient --orderings late -o late.jsonl
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.IntVarP(&turns, "turns", "n", 6, "number of speech turns")
	f.Uint64Var(&seed, "seed", 0, "random seed (0 uses the current time)")
	f.StringSliceVar(&orderings, "orderings", nil, "orderings to draw from: before_end,after_end,missing,late (default all)")
	f.Float64Var(&speed, "speed", 1, "playback speed multiplier")
	f.StringVarP(&output, "output", "o", "-", `output file ("-" for stdout)`)
	f.DurationVar(&lateDelay, "late-delay", simulate.DefaultTiming().Late, "delay before a late transcript; exceed the tracker timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// Logs go to stderr so stdout stays a clean event stream.
	logging.InitWithWriter(logging.Config{Level: "info", Format: "console", Service: "eventclient"}, os.Stderr)
	logger := logging.WithComponent("eventclient")

	if speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", speed)
	}

	var ords []simulate.Ordering
	for _, s := range orderings {
		o, err := simulate.ParseOrdering(s)
		if err != nil {
			return err
		}
		ords = append(ords, o)
	}

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	timing := simulate.DefaultTiming()
	timing.Late = lateDelay
	timing = scale(timing, speed)

	conversation := simulate.Conversation(turns, rng, ords)
	for i, t := range conversation {
		logger.Info().
			Int("turn", i).
			Str("role", string(t.Role)).
			Str("ordering", t.Ordering.String()).
			Str("text", t.Text).
			Msg("Scripted turn")
	}

	var out io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps := simulate.Script(conversation, timing)
	if err := simulate.Play(ctx, steps, events.NewEncoder(out)); err != nil && err != context.Canceled {
		return err
	}

	logger.Info().Int("events", len(steps)).Uint64("seed", seed).Msg("Conversation written")
	return nil
}

func scale(t simulate.Timing, speed float64) simulate.Timing {
	div := func(d time.Duration) time.Duration { return time.Duration(float64(d) / speed) }
	return simulate.Timing{
		Speech:       div(t.Speech),
		Partial:      div(t.Partial),
		AfterEnd:     div(t.AfterEnd),
		Late:         div(t.Late),
		BetweenTurns: div(t.BetweenTurns),
	}
}
