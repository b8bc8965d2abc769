// Package bucket writes accepted games into one parquet file per
// (archive, rating bucket). Rows are buffered per bucket and written as a
// row group every ChunkSize rows; a file only appears under its final
// name once its job is finalized.
package bucket

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/game"
	"github.com/freeeve/pgnzst/internal/metrics"
)

// Metadata keys written into every bucket file.
const (
	MetaJob    = "pgnzst.job"
	MetaRunID  = "pgnzst.run_id"
	MetaBucket = "pgnzst.bucket"
)

// Options configures a Writer.
type Options struct {
	Dir         string         // output root; bucket directories are created below it
	Edges       classify.Edges // rating edges, used for bucket labels
	Pairs       bool           // one bucket per (white, black) edge pair
	ChunkSize   int            // rows per row group
	Compression string         // zstd (default), snappy or none
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// JobID identifies the files of one run of one archive. Name picks the
// output file name; RunID keeps temp files of concurrent runs apart.
type JobID struct {
	Name  string
	RunID string
}

// FileResult describes one finalized bucket file.
type FileResult struct {
	Bucket    int
	Label     string
	Path      string
	Rows      int64
	RowGroups int
}

// Writer owns the bucket accumulators of every running job.
type Writer struct {
	opts   Options
	layout classify.Layout
	log    zerolog.Logger
	codec  parquet.WriterOption

	mu   sync.RWMutex
	jobs map[JobID]*jobFiles
}

type jobFiles struct {
	id      JobID
	buckets []*accumulator
}

// accumulator is the buffered rows and open temp file of one
// (job, bucket). Its mutex serializes all appends to the bucket.
type accumulator struct {
	mu     sync.Mutex
	bucket int
	label  string
	final  string
	tmp    string

	rows    []Row
	f       *os.File
	pw      *parquet.GenericWriter[Row]
	written int64
	groups  int
	err     error
}

// CompressionOption maps a codec name to a parquet writer option.
func CompressionOption(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "none", "uncompressed":
		return parquet.Compression(&parquet.Uncompressed), nil
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

// NewWriter validates opts and returns a Writer.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("output directory must not be empty")
	}
	if opts.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be >= 1, got %d", opts.ChunkSize)
	}
	if _, err := classify.NewEdges(opts.Edges); err != nil {
		return nil, err
	}
	codec, err := CompressionOption(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &Writer{
		opts:   opts,
		layout: classify.Layout{Edges: opts.Edges, Pairs: opts.Pairs},
		log:    opts.Logger,
		codec:  codec,
		jobs:   make(map[JobID]*jobFiles),
	}, nil
}

// NumBuckets returns the number of buckets Append accepts.
func (w *Writer) NumBuckets() int { return w.layout.NumBuckets() }

// Path returns the final output path of a job's bucket file. Pair buckets
// nest the black label directory under the white one.
func (w *Writer) Path(name string, bucket int) string {
	return filepath.Join(w.opts.Dir, filepath.FromSlash(w.layout.Label(bucket)), name+".parquet")
}

// Append buffers g for (id, bucket), writing a row group when the bucket
// reaches ChunkSize rows. Appends to different buckets run in parallel.
// Append must not race with FinalizeJob or AbortJob for the same job.
func (w *Writer) Append(id JobID, bucket int, g game.Game) error {
	if bucket < 0 || bucket >= w.layout.NumBuckets() {
		return fmt.Errorf("bucket %d out of range [0, %d)", bucket, w.layout.NumBuckets())
	}
	a := w.job(id).buckets[bucket]
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, RowOf(g))
	if len(a.rows) >= w.opts.ChunkSize {
		a.err = w.flush(id, a)
	}
	return a.err
}

// FinalizeJob writes the remaining rows of every bucket of id, closes the
// files and moves them to their final names. If any bucket fails to write,
// every temp file of the job is removed and no final file is touched. If a
// rename fails, the files already moved are removed again so the job
// leaves either all of its files or none.
func (w *Writer) FinalizeJob(id JobID) ([]FileResult, error) {
	jf := w.take(id)
	if jf == nil {
		return nil, nil
	}

	var errs []error
	for _, a := range jf.buckets {
		a.mu.Lock()
		if err := w.closeBucket(id, a); err != nil {
			errs = append(errs, err)
		}
		a.mu.Unlock()
	}
	if len(errs) > 0 {
		discard(jf)
		return nil, errors.Join(errs...)
	}

	var results []FileResult
	for _, a := range jf.buckets {
		if a.groups == 0 {
			continue
		}
		if err := os.Rename(a.tmp, a.final); err != nil {
			errs = append(errs, fmt.Errorf("rename %s: %w", a.final, err))
			break
		}
		results = append(results, FileResult{
			Bucket:    a.bucket,
			Label:     a.label,
			Path:      a.final,
			Rows:      a.written,
			RowGroups: a.groups,
		})
		w.log.Debug().
			Str("job", id.Name).
			Str("bucket", a.label).
			Int64("rows", a.written).
			Int("row_groups", a.groups).
			Msg("bucket file written")
	}
	if len(errs) > 0 {
		for _, r := range results {
			os.Remove(r.Path)
		}
		discard(jf)
		return nil, errors.Join(errs...)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Bucket < results[j].Bucket })
	return results, nil
}

// AbortJob drops the buffered rows of id and removes its temp files.
func (w *Writer) AbortJob(id JobID) {
	if jf := w.take(id); jf != nil {
		discard(jf)
		w.log.Debug().Str("job", id.Name).Str("run_id", id.RunID).Msg("bucket files discarded")
	}
}

// Pending returns the number of jobs with open accumulators.
func (w *Writer) Pending() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.jobs)
}

func (w *Writer) job(id JobID) *jobFiles {
	w.mu.RLock()
	jf := w.jobs[id]
	w.mu.RUnlock()
	if jf != nil {
		return jf
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if jf = w.jobs[id]; jf != nil {
		return jf
	}
	jf = &jobFiles{id: id, buckets: make([]*accumulator, w.layout.NumBuckets())}
	for i := range jf.buckets {
		final := w.Path(id.Name, i)
		tmp := final + ".tmp"
		if id.RunID != "" {
			tmp = final + "." + id.RunID + ".tmp"
		}
		jf.buckets[i] = &accumulator{
			bucket: i,
			label:  w.layout.Label(i),
			final:  final,
			tmp:    tmp,
		}
	}
	w.jobs[id] = jf
	return jf
}

func (w *Writer) take(id JobID) *jobFiles {
	w.mu.Lock()
	defer w.mu.Unlock()
	jf := w.jobs[id]
	delete(w.jobs, id)
	return jf
}

// flush writes the buffered rows of a as one row group. Caller holds a.mu.
func (w *Writer) flush(id JobID, a *accumulator) error {
	if len(a.rows) == 0 {
		return nil
	}
	if a.pw == nil {
		if err := w.open(id, a); err != nil {
			return err
		}
	}
	start := time.Now()
	n, err := a.pw.Write(a.rows)
	if err != nil {
		return fmt.Errorf("write rows to %s: %w", a.tmp, err)
	}
	if err := a.pw.Flush(); err != nil {
		return fmt.Errorf("flush row group to %s: %w", a.tmp, err)
	}
	a.written += int64(n)
	a.groups++
	w.opts.Metrics.ObserveFlush(a.label, n, time.Since(start))
	clear(a.rows)
	a.rows = a.rows[:0]
	return nil
}

func (w *Writer) open(id JobID, a *accumulator) error {
	if err := os.MkdirAll(filepath.Dir(a.tmp), 0755); err != nil {
		return fmt.Errorf("create bucket dir: %w", err)
	}
	f, err := os.Create(a.tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.tmp, err)
	}
	a.f = f
	a.pw = parquet.NewGenericWriter[Row](f,
		w.codec,
		parquet.MaxRowsPerRowGroup(int64(w.opts.ChunkSize)),
		parquet.KeyValueMetadata(MetaJob, id.Name),
		parquet.KeyValueMetadata(MetaRunID, id.RunID),
		parquet.KeyValueMetadata(MetaBucket, a.label),
	)
	return nil
}

// closeBucket flushes the tail rows and writes the footer. Caller holds a.mu.
func (w *Writer) closeBucket(id JobID, a *accumulator) error {
	if a.err != nil {
		return a.err
	}
	if err := w.flush(id, a); err != nil {
		a.err = err
		return err
	}
	if a.pw == nil {
		return nil
	}
	err := a.pw.Close()
	if cerr := a.f.Close(); err == nil {
		err = cerr
	}
	a.pw, a.f = nil, nil
	if err != nil {
		a.err = fmt.Errorf("close %s: %w", a.tmp, err)
		return a.err
	}
	return nil
}

func discard(jf *jobFiles) {
	for _, a := range jf.buckets {
		a.mu.Lock()
		if a.f != nil {
			a.f.Close()
			a.pw, a.f = nil, nil
		}
		if a.groups > 0 || a.err != nil {
			os.Remove(a.tmp)
		}
		a.rows = nil
		a.mu.Unlock()
	}
}
