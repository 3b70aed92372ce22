package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/tonal/internal/api"
	"github.com/satindergrewal/tonal/internal/config"
	"github.com/satindergrewal/tonal/internal/device"
	"github.com/satindergrewal/tonal/internal/engine"
	"github.com/satindergrewal/tonal/internal/mixer"
	"github.com/satindergrewal/tonal/internal/session"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	Timer time.Duration
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{}

	cmd := &cobra.Command{
		Use:   "play <session-or-frequency-id>",
		Short: "Play a session or a single frequency on the local audio device",
		Long: `Play a catalog session on the local audio device until it ends.

If the id names a frequency instead, it is played on its own until
interrupted or until --timer expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runPlay(ctx, cfg, rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&opts.Timer, "timer", 0, "stop automatically after this long")

	return cmd
}

func runPlay(ctx context.Context, cfg config.Config, rootOpts *RootOptions, opts *PlayOptions, id string, out io.Writer) error {
	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	dev, err := device.NewOto(rt.mixer)
	if err != nil {
		return err
	}
	eng := rt.attach(dev)
	if rt.history != nil {
		api.RecordHistory(eng, rt.history)
	}

	updates := make(chan engine.Status, 16)
	eng.SetStatusFunc(func(st engine.Status) {
		select {
		case updates <- st:
		default:
		}
	})

	if sess, ok := rt.catalog.Session(id); ok {
		err = eng.Start(ctx, sess, rt.catalog)
	} else {
		f, ferr := rt.catalog.FindFrequency(id)
		if ferr != nil {
			return fmt.Errorf("%q is neither a session nor a frequency: %w", id, ferr)
		}
		err = eng.Play(ctx, f)
	}
	if err != nil {
		return err
	}
	if opts.Timer > 0 {
		if err := eng.SetTimer(opts.Timer); err != nil {
			return err
		}
	}

	return followPlayback(ctx, eng, updates, rootOpts.Format, out)
}

// followPlayback reports step changes until the engine returns to idle or
// ctx is cancelled, in which case playback is faded out first.
func followPlayback(ctx context.Context, eng *engine.Engine, updates <-chan engine.Status, format string, out io.Writer) error {
	lastStep := -1
	for {
		select {
		case <-ctx.Done():
			eng.Stop()
			waitIdle(eng, updates)
			return nil
		case st := <-updates:
			if st.State == session.Idle {
				return nil
			}
			if st.StepIndex == lastStep {
				continue
			}
			lastStep = st.StepIndex
			if err := reportStep(out, format, st); err != nil {
				return err
			}
		}
	}
}

func waitIdle(eng *engine.Engine, updates <-chan engine.Status) {
	deadline := time.After(session.TeardownDelay + 500*time.Millisecond)
	for eng.Status().State != session.Idle {
		select {
		case <-updates:
		case <-deadline:
			return
		}
	}
}

func reportStep(out io.Writer, format string, st engine.Status) error {
	if format == "json" {
		return writeJSON(out, st)
	}
	lead := st.Layers[mixer.Main]
	if st.SessionID == "" {
		_, err := fmt.Fprintf(out, "Playing %s (%s)\n", lead.Frequency, lead.Mode)
		return err
	}
	_, err := fmt.Fprintf(out, "%s: step %d/%d, %s for %s\n",
		st.SessionName, st.StepIndex+1, st.StepCount, lead.Frequency,
		time.Duration(st.StepDuration*float64(time.Second)))
	return err
}
