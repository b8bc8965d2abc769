package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/freeeve/pgnzst/internal/config"
	"github.com/freeeve/pgnzst/internal/httpapi"
	"github.com/freeeve/pgnzst/internal/logx"
	"github.com/freeeve/pgnzst/internal/metrics"
	"github.com/freeeve/pgnzst/internal/pool"
)

// flagValues receives the run and watch flags; only flags set on the command line
// override the loaded configuration.
var flagValues = config.Default()

var showStatus bool

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Bucket every .pgn.zst archive in paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		inputs, err := expandInputs(args)
		if err != nil {
			s.close()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				s.log.Warn().Msg("interrupted, canceling running jobs")
				s.pool.Cancel()
			case <-done:
			}
		}()

		for _, in := range inputs {
			if err := s.pool.Enqueue(in.Path, in.Name); err != nil {
				s.pool.Cancel()
				s.close()
				return fmt.Errorf("enqueue %s: %w", in.Path, err)
			}
		}
		s.log.Info().Int("files", len(inputs)).Str("outdir", s.cfg.OutDir).Msg("archives enqueued")
		s.close()

		completed := s.pool.Completed()
		if err := printLedger(cmd.OutOrStdout(), completed); err != nil {
			return err
		}
		var failed int
		for _, c := range completed {
			if c.Failed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d archives failed", failed, len(completed))
		}
		return nil
	},
}

// session is a configured pool plus its optional monitoring server.
type session struct {
	cfg  config.Config
	log  zerolog.Logger
	pool *pool.Pool
	srv  *http.Server
}

func startSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, &cfg)

	log := logx.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	m := metrics.New("pgnzst")
	opts := []pool.Option{pool.WithLogger(log), pool.WithMetrics(m)}
	if showStatus {
		opts = append(opts, pool.WithStatusWriter(cmd.OutOrStdout()))
	}
	p, err := pool.New(cfg.Config, opts...)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log, pool: p}
	if cfg.MetricsAddr != "" {
		s.srv = serveMonitoring(log, cfg.MetricsAddr, p, m)
	}
	return s, nil
}

// close drains the pool and stops the monitoring server.
func (s *session) close() {
	s.pool.Close()
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("monitoring server shutdown error")
	}
}

func init() {
	addPoolFlags(runCmd.Flags())
}

// addPoolFlags registers the configuration flags shared by run and watch.
func addPoolFlags(f *pflag.FlagSet) {
	c := &flagValues.Config
	f.IntVar(&c.NSimultaneous, "simultaneous", c.NSimultaneous, "Archives processed at once")
	f.IntVar(&c.NReadersPerFile, "readers", c.NReadersPerFile, "Shard readers per archive")
	f.IntVar(&c.NParsersPerFile, "parsers", c.NParsersPerFile, "Parser workers per archive")
	f.IntVar(&c.MinSec, "min-sec", c.MinSec, "Minimum base time in seconds")
	f.IntVar(&c.MaxSec, "max-sec", c.MaxSec, "Maximum base time in seconds")
	f.IntVar(&c.MaxInc, "max-inc", c.MaxInc, "Maximum increment in seconds")
	f.IntSliceVar(&c.Edges, "edges", c.Edges, "Strictly increasing rating bucket edges")
	f.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "Rows per parquet row group")
	f.IntVar(&c.PrintFreq, "print-freq", c.PrintFreq, "Seconds between progress updates")
	f.IntVar(&c.PrintOffset, "print-offset", c.PrintOffset, "First terminal row of the status board")
	f.StringVarP(&c.OutDir, "outdir", "o", c.OutDir, "Output directory")
	f.IntVar(&c.ReadChunkBytes, "read-chunk-bytes", c.ReadChunkBytes, "Decompressed bytes per read (0 = 1 MiB)")
	f.IntVar(&c.QueueDepth, "queue-depth", c.QueueDepth, "Record batches buffered per archive (0 = 2 x parsers)")
	f.IntVar(&c.BatchRecords, "batch-records", c.BatchRecords, "Records per batch (0 = 256)")
	f.StringVar(&c.RatingPolicy, "rating-policy", c.RatingPolicy, "Bucket rating: mean, min, max, white, black, or pair for one bucket per (white, black) rating pair")
	f.StringSliceVar(&c.Terminations, "terminations", c.Terminations, "Keep only games whose Termination contains one of these")
	f.BoolVar(&c.KeepMovetext, "keep-movetext", c.KeepMovetext, "Store the movetext column")
	f.StringVar(&c.Compression, "compression", c.Compression, "Parquet compression: zstd, snappy or none")
	f.StringVar(&flagValues.MetricsAddr, "metrics-addr", flagValues.MetricsAddr, "Serve metrics and status on this address")
	f.BoolVar(&showStatus, "status", false, "Draw the live status board on stdout")
}

// applyFlags copies every explicitly set flag over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	src, dst := &flagValues.Config, &cfg.Config
	set := map[string]func(){
		"simultaneous":     func() { dst.NSimultaneous = src.NSimultaneous },
		"readers":          func() { dst.NReadersPerFile = src.NReadersPerFile },
		"parsers":          func() { dst.NParsersPerFile = src.NParsersPerFile },
		"min-sec":          func() { dst.MinSec = src.MinSec },
		"max-sec":          func() { dst.MaxSec = src.MaxSec },
		"max-inc":          func() { dst.MaxInc = src.MaxInc },
		"edges":            func() { dst.Edges = src.Edges },
		"chunk-size":       func() { dst.ChunkSize = src.ChunkSize },
		"print-freq":       func() { dst.PrintFreq = src.PrintFreq },
		"print-offset":     func() { dst.PrintOffset = src.PrintOffset },
		"outdir":           func() { dst.OutDir = src.OutDir },
		"read-chunk-bytes": func() { dst.ReadChunkBytes = src.ReadChunkBytes },
		"queue-depth":      func() { dst.QueueDepth = src.QueueDepth },
		"batch-records":    func() { dst.BatchRecords = src.BatchRecords },
		"rating-policy":    func() { dst.RatingPolicy = src.RatingPolicy },
		"terminations":     func() { dst.Terminations = src.Terminations },
		"keep-movetext":    func() { dst.KeepMovetext = src.KeepMovetext },
		"compression":      func() { dst.Compression = src.Compression },
		"metrics-addr":     func() { cfg.MetricsAddr = flagValues.MetricsAddr },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func serveMonitoring(log zerolog.Logger, addr string, p *pool.Pool, m *metrics.Metrics) *http.Server {
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpapi.NewRouter(log.With().Str("component", "httpapi").Logger(), p, m),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("monitoring server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("monitoring server")
		}
	}()
	return srv
}

func printLedger(w io.Writer, completed []pool.Completion) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACCEPTED\tGAMES\tELAPSED\tSTATUS")
	for _, c := range completed {
		status := "ok"
		if c.Failed {
			status = "failed: " + c.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", c.Name, c.Accepted, c.Total, c.Elapsed.Round(time.Millisecond), status)
	}
	return tw.Flush()
}
