// Package job runs one archive through the pipeline: shard readers feed
// record batches over a bounded channel to parser workers, which classify
// each game and append it to the bucket writer.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/pgnzst/internal/archive"
	"github.com/freeeve/pgnzst/internal/bucket"
	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/game"
	"github.com/freeeve/pgnzst/internal/metrics"
	"github.com/freeeve/pgnzst/internal/record"
)

// Job identifies one input archive.
type Job struct {
	Path string
	Name string
}

// Sink receives the accepted games of a run. *bucket.Writer is the
// production Sink.
type Sink interface {
	Append(id bucket.JobID, bucket int, g game.Game) error
	FinalizeJob(id bucket.JobID) ([]bucket.FileResult, error)
	AbortJob(id bucket.JobID)
}

// Config configures a Runner.
type Config struct {
	Readers        int // shard readers per file
	Parsers        int // parser workers per file
	ReadChunkBytes int // decompressed chunk size
	QueueDepth     int // batches buffered between readers and parsers
	BatchRecords   int // records per batch
	KeepMovetext   bool

	Classify *classify.Config
	Writer   Sink
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Result is the outcome of one Run.
type Result struct {
	Job       Job
	RunID     string
	Total     int64
	Accepted  int64
	Malformed int64
	Truncated int64
	Rejected  [classify.NumReasons]int64
	Files     []bucket.FileResult
	Elapsed   time.Duration
	Err       error
}

// Runner processes file jobs. It holds no per-job state and is safe for
// concurrent use.
type Runner struct {
	cfg Config
	log zerolog.Logger
}

// NewRunner applies defaults to cfg and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Classify == nil || cfg.Writer == nil {
		return nil, errors.New("job runner needs a classify config and a bucket writer")
	}
	if cfg.Readers < 1 {
		cfg.Readers = 1
	}
	if cfg.Parsers < 1 {
		cfg.Parsers = 1
	}
	if cfg.ReadChunkBytes < 1 {
		cfg.ReadChunkBytes = archive.DefaultChunkBytes
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 2 * cfg.Parsers
	}
	if cfg.BatchRecords < 1 {
		cfg.BatchRecords = 256
	}
	return &Runner{cfg: cfg, log: cfg.Logger}, nil
}

// Run processes j to completion and returns its counts. Failures are
// reported in Result.Err and leave no bucket files behind. tr may be nil.
func (r *Runner) Run(ctx context.Context, j Job, tr *Tracker) Result {
	if tr == nil {
		tr = NewTracker(j, "")
	}
	tr.start()
	id := bucket.JobID{Name: j.Name, RunID: tr.RunID()}
	log := r.log.With().Str("job", j.Name).Str("run_id", id.RunID).Logger()
	log.Info().Str("path", j.Path).Int("readers", r.cfg.Readers).Int("parsers", r.cfg.Parsers).Msg("starting file parse")

	var files []bucket.FileResult
	err := guard(func() error { return r.run(ctx, j, id, tr) })()
	if err == nil {
		err = guard(func() (err error) {
			files, err = r.cfg.Writer.FinalizeJob(id)
			return err
		})()
	}
	if err != nil {
		files = nil
		if aerr := guard(func() error { r.cfg.Writer.AbortJob(id); return nil })(); aerr != nil {
			log.Error().Err(aerr).Msg("discarding bucket files failed")
		}
	}
	tr.finish(err != nil)

	p := tr.Snapshot()
	res := Result{
		Job:       j,
		RunID:     id.RunID,
		Total:     p.Total,
		Accepted:  p.Accepted,
		Malformed: p.Malformed,
		Truncated: p.Truncated,
		Rejected:  p.Rejected,
		Files:     files,
		Elapsed:   p.Elapsed,
		Err:       err,
	}
	if err != nil {
		log.Error().Err(err).Int64("games", p.Total).Dur("elapsed", p.Elapsed).Msg("file parse failed")
		return res
	}
	log.Info().
		Int64("games", p.Total).
		Int64("accepted", p.Accepted).
		Int64("malformed", p.Malformed).
		Int64("truncated", p.Truncated).
		Int("files", len(files)).
		Dur("elapsed", p.Elapsed).
		Float64("games_per_sec", p.GamesPerSec()).
		Msg("file parse complete")
	return res
}

func (r *Runner) run(ctx context.Context, j Job, id bucket.JobID, tr *Tracker) error {
	arch, err := archive.Open(j.Path, archive.Options{Readers: r.cfg.Readers, ChunkBytes: r.cfg.ReadChunkBytes})
	if err != nil {
		return err
	}
	tr.arch.Store(arch)
	defer func() {
		r.cfg.Metrics.AddBytesRead(arch.BytesRead())
		arch.Close()
	}()

	batches := make(chan [][]byte, r.cfg.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() error {
		defer close(batches)
		return r.read(gctx, arch, batches, tr)
	}))
	for i := 0; i < r.cfg.Parsers; i++ {
		g.Go(guard(func() error {
			return r.parse(gctx, id, batches, tr)
		}))
	}
	return g.Wait()
}

// read runs one splitter per shard and sends complete records downstream.
// Records that straddle shard seams are sent once every shard is done.
func (r *Runner) read(ctx context.Context, arch *archive.Archive, out chan<- [][]byte, tr *Tracker) error {
	shards := arch.Shards()
	frags := make([]record.Fragment, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		g.Go(guard(func() error {
			sp := record.NewSplitter()
			if i > 0 {
				sp = record.NewSeamSplitter()
			}
			b := r.newBatcher(out)
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				chunk, err := sh.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				if err := b.add(gctx, sp.Feed(chunk)); err != nil {
					return err
				}
			}
			frags[i] = sp.End()
			return b.flush(gctx)
		}))
	}
	if err := g.Wait(); err != nil {
		return err
	}

	recs, truncated := record.Stitch(frags)
	if truncated {
		tr.truncated.Add(1)
		r.cfg.Metrics.AddTruncated(1)
	}
	b := r.newBatcher(out)
	if err := b.add(ctx, recs); err != nil {
		return err
	}
	return b.flush(ctx)
}

// parse consumes batches until the channel closes.
func (r *Runner) parse(ctx context.Context, id bucket.JobID, in <-chan [][]byte, tr *Tracker) error {
	p := game.Parser{KeepMovetext: r.cfg.KeepMovetext}
	c := newTally(r.cfg.Classify.Layout().NumBuckets())
	for batch := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, rec := range batch {
			c.total++
			g, err := p.Parse(rec)
			if err != nil {
				c.malformed++
				continue
			}
			b, reason := classify.Classify(g, r.cfg.Classify)
			if reason != classify.Accepted {
				c.rejected[reason]++
				continue
			}
			if err := r.cfg.Writer.Append(id, b, g); err != nil {
				return err
			}
			c.accepted[b]++
		}
		r.report(c, tr)
	}
	return nil
}

func (r *Runner) report(c *tally, tr *Tracker) {
	tr.add(c)
	m := r.cfg.Metrics
	if m != nil {
		layout := r.cfg.Classify.Layout()
		m.AddMalformed(c.malformed)
		for i, n := range c.accepted {
			m.AddAccepted(layout.Label(i), n)
		}
		for i, n := range c.rejected {
			m.AddRejected(classify.Reason(i).String(), n)
		}
	}
	c.reset()
}

// batcher groups records into BatchRecords-sized channel messages.
type batcher struct {
	out  chan<- [][]byte
	size int
	cur  [][]byte
}

func (r *Runner) newBatcher(out chan<- [][]byte) *batcher {
	return &batcher{out: out, size: r.cfg.BatchRecords}
}

func (b *batcher) add(ctx context.Context, recs [][]byte) error {
	for _, rec := range recs {
		b.cur = append(b.cur, rec)
		if len(b.cur) >= b.size {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.cur) == 0 {
		return nil
	}
	select {
	case b.out <- b.cur:
		b.cur = make([][]byte, 0, b.size)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// guard turns a panic into an error so it fails the job instead of the
// process.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn()
	}
}
