package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/pgnzst/internal/ingest"
)

var (
	processedDir string
	pollInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Bucket archives as they appear in dir, moving finished ones aside",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		w, err := ingest.NewWorker(ingest.Config{
			WatchDir:     args[0],
			ProcessedDir: processedDir,
			PollInterval: pollInterval,
			Logger:       s.log.With().Str("component", "ingest").Logger(),
		}, s.pool)
		if err != nil {
			s.close()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			s.pool.Cancel()
		}()

		err = w.Run(ctx)
		s.close()
		if errors.Is(err, context.Canceled) {
			s.log.Info().Int("completed", len(s.pool.Completed())).Msg("watch stopped")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addPoolFlags(watchCmd.Flags())
	watchCmd.Flags().StringVar(&processedDir, "processed-dir", "", "Where finished archives are moved (default <dir>/processed)")
	watchCmd.Flags().DurationVar(&pollInterval, "poll", 10*time.Second, "Interval between directory scans")
}
