package job

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/pgnzst/internal/archive"
	"github.com/freeeve/pgnzst/internal/bucket"
	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/game"
	"github.com/freeeve/pgnzst/internal/metrics"
	"github.com/freeeve/pgnzst/internal/pgntest"
	"github.com/freeeve/pgnzst/internal/record"
)

func testClassify() *classify.Config {
	return &classify.Config{
		MinSec: 60,
		MaxSec: 600,
		MaxInc: 5,
		Edges:  classify.Edges{1000, 1400, 1800, 2200},
	}
}

// expected computes the per-bucket accepted counts of data the slow way.
func expected(t *testing.T, data []byte, cfg *classify.Config) (perBucket map[int]int64, total, malformed int64) {
	t.Helper()
	recs, _ := record.SplitAll(data)
	perBucket = map[int]int64{}
	for _, rec := range recs {
		total++
		g, err := game.Parse(rec)
		if err != nil {
			malformed++
			continue
		}
		if b, reason := classify.Classify(g, cfg); reason == classify.Accepted {
			perBucket[b]++
		}
	}
	return perBucket, total, malformed
}

func newRunner(t *testing.T, readers, parsers int, m *metrics.Metrics) (*Runner, string) {
	t.Helper()
	cfg := testClassify()
	out := t.TempDir()
	w, err := bucket.NewWriter(bucket.Options{Dir: out, Edges: cfg.Edges, ChunkSize: 50, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(Config{
		Readers:        readers,
		Parsers:        parsers,
		ReadChunkBytes: 4096,
		BatchRecords:   16,
		Classify:       cfg,
		Writer:         w,
		Metrics:        m,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, out
}

func TestRunCounts(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(600))
	path := pgntest.WriteZst(t, t.TempDir(), "mixed.pgn.zst", data, 5)
	want, wantTotal, wantMalformed := expected(t, data, testClassify())
	var wantAccepted int64
	for _, n := range want {
		wantAccepted += n
	}
	if wantAccepted == 0 {
		t.Fatal("fixture accepts no games")
	}

	for _, shape := range []struct{ readers, parsers int }{{1, 1}, {2, 4}, {5, 3}} {
		m := metrics.New("test")
		r, _ := newRunner(t, shape.readers, shape.parsers, m)
		tr := NewTracker(Job{Path: path, Name: "mixed"}, "run1")
		res := r.Run(context.Background(), tr.Job(), tr)
		if res.Err != nil {
			t.Fatalf("%+v: Run: %v", shape, res.Err)
		}
		if res.Total != wantTotal || res.Accepted != wantAccepted || res.Malformed != wantMalformed {
			t.Errorf("%+v: total/accepted/malformed = %d/%d/%d, want %d/%d/%d", shape,
				res.Total, res.Accepted, res.Malformed, wantTotal, wantAccepted, wantMalformed)
		}
		var rejected int64
		for _, n := range res.Rejected {
			rejected += n
		}
		if res.Accepted+rejected+res.Malformed != res.Total {
			t.Errorf("%+v: accepted %d + rejected %d + malformed %d != total %d", shape, res.Accepted, rejected, res.Malformed, res.Total)
		}

		if len(res.Files) != len(want) {
			t.Fatalf("%+v: files = %d, want %d", shape, len(res.Files), len(want))
		}
		for _, f := range res.Files {
			rows, err := bucket.ReadFile(f.Path)
			if err != nil {
				t.Fatal(err)
			}
			if int64(len(rows)) != want[f.Bucket] {
				t.Errorf("%+v: bucket %d has %d rows, want %d", shape, f.Bucket, len(rows), want[f.Bucket])
			}
		}

		p := tr.Snapshot()
		if p.State != Completed || p.Failed {
			t.Errorf("%+v: state = %v failed = %v", shape, p.State, p.Failed)
		}
		if p.BytesRead != p.Size {
			t.Errorf("%+v: BytesRead = %d, want %d", shape, p.BytesRead, p.Size)
		}
	}
}

func TestRunMissingFile(t *testing.T) {
	r, out := newRunner(t, 2, 2, nil)
	res := r.Run(context.Background(), Job{Path: filepath.Join(t.TempDir(), "none.pgn.zst"), Name: "none"}, nil)
	if !errors.Is(res.Err, archive.ErrIO) {
		t.Fatalf("Err = %v, want ErrIO", res.Err)
	}
	assertEmptyDir(t, out)
}

func TestRunCorruptArchiveLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	comp := pgntest.Compress(t, pgntest.Corpus(pgntest.Mixed(2000)), 1)
	// Corrupt the end so plenty of rows are flushed before the error.
	for i := len(comp) - 64; i < len(comp)-8; i++ {
		comp[i] ^= 0xff
	}
	path := filepath.Join(dir, "bad.pgn.zst")
	if err := os.WriteFile(path, comp, 0o644); err != nil {
		t.Fatal(err)
	}

	r, out := newRunner(t, 1, 2, nil)
	res := r.Run(context.Background(), Job{Path: path, Name: "bad"}, NewTracker(Job{}, "x"))
	if !errors.Is(res.Err, archive.ErrDecompression) {
		t.Fatalf("Err = %v, want ErrDecompression", res.Err)
	}
	if res.Files != nil {
		t.Errorf("Files = %v, want none", res.Files)
	}
	assertEmptyDir(t, out)
}

func TestRunCanceled(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(100))
	path := pgntest.WriteZst(t, t.TempDir(), "c.pgn.zst", data, 2)
	r, out := newRunner(t, 2, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Run(ctx, Job{Path: path, Name: "c"}, nil)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", res.Err)
	}
	assertEmptyDir(t, out)
}

func TestNewRunnerNeedsWriter(t *testing.T) {
	if _, err := NewRunner(Config{Classify: testClassify()}); err == nil {
		t.Error("NewRunner without writer succeeded")
	}
}

// panicSink fails the job at finalize time with a panic.
type panicSink struct {
	*bucket.Writer
}

func (panicSink) FinalizeJob(bucket.JobID) ([]bucket.FileResult, error) {
	panic("footer write")
}

func TestRunFinalizePanicFailsJob(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(300))
	path := pgntest.WriteZst(t, t.TempDir(), "p.pgn.zst", data, 2)
	cfg := testClassify()
	out := t.TempDir()
	w, err := bucket.NewWriter(bucket.Options{Dir: out, Edges: cfg.Edges, ChunkSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(Config{Readers: 2, Parsers: 2, ReadChunkBytes: 4096, Classify: cfg, Writer: panicSink{w}})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTracker(Job{Path: path, Name: "p"}, "run1")
	res := r.Run(context.Background(), tr.Job(), tr)
	if res.Err == nil || !strings.Contains(res.Err.Error(), "footer write") {
		t.Fatalf("Err = %v, want the finalize panic", res.Err)
	}
	if res.Files != nil {
		t.Errorf("Files = %v, want none", res.Files)
	}
	if p := tr.Snapshot(); !p.Failed {
		t.Error("tracker not marked failed")
	}
	if w.Pending() != 0 {
		t.Errorf("Pending = %d, want the job aborted", w.Pending())
	}
	assertEmptyDir(t, out)
}

func TestRunPairPolicy(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(400))
	path := pgntest.WriteZst(t, t.TempDir(), "pairs.pgn.zst", data, 3)
	cfg := testClassify()
	cfg.Policy = classify.PolicyPair
	want, wantTotal, _ := expected(t, data, cfg)
	if len(want) == 0 {
		t.Fatal("fixture accepts no games")
	}

	out := t.TempDir()
	w, err := bucket.NewWriter(bucket.Options{Dir: out, Edges: cfg.Edges, Pairs: true, ChunkSize: 30})
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New("test")
	r, err := NewRunner(Config{Readers: 2, Parsers: 3, ReadChunkBytes: 4096, Classify: cfg, Writer: w, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	res := r.Run(context.Background(), Job{Path: path, Name: "pairs"}, nil)
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Total != wantTotal {
		t.Errorf("Total = %d, want %d", res.Total, wantTotal)
	}
	if len(res.Files) != len(want) {
		t.Fatalf("files = %d, want %d", len(res.Files), len(want))
	}
	layout := cfg.Layout()
	for _, f := range res.Files {
		if f.Rows != want[f.Bucket] {
			t.Errorf("bucket %d has %d rows, want %d", f.Bucket, f.Rows, want[f.Bucket])
		}
		rel, _ := filepath.Rel(out, f.Path)
		if wantRel := filepath.Join(filepath.FromSlash(layout.Label(f.Bucket)), "pairs.parquet"); rel != wantRel {
			t.Errorf("path = %s, want %s", rel, wantRel)
		}
	}
}

func TestProgressETA(t *testing.T) {
	p := Progress{Size: 1000, BytesRead: 250, Elapsed: 10e9, Total: 500}
	if got := p.ETA().Seconds(); got != 30 {
		t.Errorf("ETA = %vs, want 30s", got)
	}
	if got := p.GamesPerSec(); got != 50 {
		t.Errorf("GamesPerSec = %v, want 50", got)
	}
	if got := p.Fraction(); got != 0.25 {
		t.Errorf("Fraction = %v, want 0.25", got)
	}
	if (Progress{}).ETA() != 0 {
		t.Error("ETA with no progress should be zero")
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			t.Errorf("unexpected file %s", p)
		}
		return nil
	})
}
