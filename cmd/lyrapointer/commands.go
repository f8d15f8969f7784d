package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/pipeline"
	"github.com/ayusman/lyrapointer/internal/pointer"
	"github.com/ayusman/lyrapointer/internal/recording"
	"github.com/ayusman/lyrapointer/internal/store"
)

var replaySpeedFlag float64

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a config file and report every invalid field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig(cmd.OutOrStdout(), args[0])
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <recording-id>",
	Short: "Run a stored recording through the pipeline and log the pointer actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return replay(ctx, cmd.OutOrStdout(), args[0])
	},
}

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List stored recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRecordings(cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replaySpeedFlag, "speed", 1, "Playback speed multiplier")
}

func validateConfig(w io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if _, err := config.Load(path); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(w, "%s: %s\n", e.Field, e.Message)
			}
			return fmt.Errorf("%s: %d invalid field(s)", path, len(verrs))
		}
		return err
	}
	fmt.Fprintf(w, "%s: ok\n", path)
	return nil
}

func replay(ctx context.Context, w io.Writer, id string) error {
	s, err := store.New(dbFlag)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	st, err := pipeline.SettingsFrom(cfg)
	if err != nil {
		return err
	}

	player, err := recording.Load(s.Recordings(), id, recording.WithSpeed(replaySpeedFlag))
	if err != nil {
		return err
	}
	defer player.Close()

	log.Info().Str("recording", id).Int("frames", player.Len()).Float64("speed", replaySpeedFlag).Msg("replaying")
	d := dispatch.New(pointer.LogSink{}, pointer.Screen{Width: 1920, Height: 1080}, st.Mapping)
	runner := pipeline.NewRunner(player, d, st)

	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		return err
	}

	stats := runner.Stats()
	fmt.Fprintf(w, "replayed %d frames in %s: %d processed, %d sessions, %d misses\n",
		stats.Frames, time.Since(start).Round(time.Millisecond), stats.Processed, stats.Sessions, stats.Misses)
	for kind, n := range stats.Dispatch.ByKind {
		fmt.Fprintf(w, "  %-14s %d\n", kind, n)
	}
	return nil
}

func listRecordings(w io.Writer) error {
	s, err := store.New(dbFlag)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.Recordings().List()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "no recordings")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFRAMES\tDURATION\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Name, r.FrameCount, r.Duration.Round(time.Millisecond), r.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
