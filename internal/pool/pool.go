// Package pool runs file jobs with bounded file-level concurrency. Each
// running job has its own reader and parser workers; the pool only decides
// which archive runs next and keeps the ledger of finished ones.
package pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/pgnzst/internal/bucket"
	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/job"
	"github.com/freeeve/pgnzst/internal/metrics"
)

// Completion is one ledger entry.
type Completion struct {
	Name     string
	Path     string
	RunID    string
	Accepted int64 // zero when Failed
	Total    int64
	Failed   bool
	Err      error
	Elapsed  time.Duration
	Files    []bucket.FileResult
}

// Option configures optional Pool collaborators.
type Option func(*Pool)

// WithLogger sets the pool logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// WithMetrics records pool and pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithStatusWriter renders the status board to w every PrintFreq seconds.
func WithStatusWriter(w io.Writer) Option {
	return func(p *Pool) { p.status = w }
}

// Pool is a queue of archives served by NSimultaneous file workers.
type Pool struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	status  io.Writer
	runner  *job.Runner

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*job.Tracker
	active   []*job.Tracker
	pending  int // queued + running
	closed   bool
	stopping bool
	ledger   []Completion
	byName   map[string]int

	workers   sync.WaitGroup
	stopBoard chan struct{}
	boardDone chan struct{}
	closeOnce sync.Once
}

// New validates cfg and starts the file workers.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:       cfg,
		log:       zerolog.Nop(),
		byName:    make(map[string]int),
		stopBoard: make(chan struct{}),
		boardDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)

	cc, err := cfg.classifyConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	w, err := bucket.NewWriter(bucket.Options{
		Dir:         cfg.OutDir,
		Edges:       cc.Edges,
		Pairs:       cc.Policy == classify.PolicyPair,
		ChunkSize:   cfg.ChunkSize,
		Compression: cfg.Compression,
		Logger:      p.log,
		Metrics:     p.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	p.runner, err = job.NewRunner(job.Config{
		Readers:        cfg.NReadersPerFile,
		Parsers:        cfg.NParsersPerFile,
		ReadChunkBytes: cfg.ReadChunkBytes,
		QueueDepth:     cfg.QueueDepth,
		BatchRecords:   cfg.BatchRecords,
		KeepMovetext:   cfg.KeepMovetext,
		Classify:       cc,
		Writer:         w,
		Logger:         p.log,
		Metrics:        p.metrics,
	})
	if err != nil {
		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < cfg.NSimultaneous; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}
	go p.board()

	p.log.Info().
		Int("simultaneous", cfg.NSimultaneous).
		Int("readers_per_file", cfg.NReadersPerFile).
		Int("parsers_per_file", cfg.NParsersPerFile).
		Str("outdir", cfg.OutDir).
		Msg("parser pool started")
	return p, nil
}

// Enqueue adds an archive to the queue without blocking. It fails with
// ErrClosed after Close and with ErrInvalidArgument for an empty path or
// name.
func (p *Pool) Enqueue(path, name string) error {
	if path == "" || name == "" {
		return fmt.Errorf("%w: path and name must not be empty", ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	tr := job.NewTracker(job.Job{Path: path, Name: name}, uuid.NewString())
	p.queue = append(p.queue, tr)
	p.pending++
	p.metrics.FileQueued()
	p.cond.Broadcast()
	p.log.Debug().Str("job", name).Str("path", path).Int("queued", len(p.queue)).Msg("archive enqueued")
	return nil
}

// Join blocks until every job enqueued so far, and any enqueued while
// waiting, has completed. The pool keeps running.
func (p *Pool) Join() {
	p.mu.Lock()
	for p.pending > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Close stops admission, waits for queued and running jobs, and stops the
// workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.Join()

		p.mu.Lock()
		p.stopping = true
		p.cond.Broadcast()
		p.mu.Unlock()
		p.workers.Wait()

		close(p.stopBoard)
		<-p.boardDone
		p.cancel()
		p.log.Info().Int("completed", len(p.Completed())).Msg("parser pool closed")
	})
}

// Cancel aborts running jobs and makes queued ones fail as soon as they
// start. Aborted jobs are recorded as failed. Close is still required.
func (p *Pool) Cancel() {
	p.cancel()
}

// Completed returns a snapshot of the ledger in completion order.
func (p *Pool) Completed() []Completion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Completion(nil), p.ledger...)
}

// Progress returns snapshots of the running jobs.
func (p *Pool) Progress() []job.Progress {
	p.mu.Lock()
	active := append([]*job.Tracker(nil), p.active...)
	p.mu.Unlock()

	out := make([]job.Progress, len(active))
	for i, tr := range active {
		out[i] = tr.Snapshot()
	}
	return out
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		tr := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active = append(p.active, tr)
		p.mu.Unlock()

		p.metrics.FileStarted()
		p.log.Debug().Int("worker", id).Str("job", tr.Job().Name).Msg("file worker picked job")
		res := p.runner.Run(p.ctx, tr.Job(), tr)
		p.metrics.FileDone(res.Elapsed, res.Err != nil)
		p.complete(tr, res)
	}
}

func (p *Pool) complete(tr *job.Tracker, res job.Result) {
	c := Completion{
		Name:     res.Job.Name,
		Path:     res.Job.Path,
		RunID:    res.RunID,
		Accepted: res.Accepted,
		Total:    res.Total,
		Err:      res.Err,
		Elapsed:  res.Elapsed,
		Files:    res.Files,
	}
	if res.Err != nil {
		c.Failed = true
		c.Accepted = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.active {
		if a == tr {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	if i, ok := p.byName[c.Name]; ok {
		prev := p.ledger[i]
		p.log.Warn().
			Str("job", c.Name).
			Int64("replaced_games", prev.Accepted).
			Int64("games", c.Accepted).
			Msg("duplicate job name, ledger entry replaced")
		p.ledger = append(p.ledger[:i], p.ledger[i+1:]...)
		for j := i; j < len(p.ledger); j++ {
			p.byName[p.ledger[j].Name] = j
		}
	}
	p.byName[c.Name] = len(p.ledger)
	p.ledger = append(p.ledger, c)
	p.pending--
	p.cond.Broadcast()
}
