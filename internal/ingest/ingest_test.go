package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freeeve/pgnzst/internal/pgntest"
	"github.com/freeeve/pgnzst/internal/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.OutDir = t.TempDir()
	cfg.PrintFreq = 3600
	p, err := pool.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestIsArchiveFile(t *testing.T) {
	tests := map[string]bool{
		"lichess_2024-01.pgn.zst": true,
		"a.b.pgn.zst":             true,
		"games.pgn":               false,
		"games.zst":               false,
		"games.pgn.zst.tmp":       false,
		"pgn.zst":                 false,
	}
	for name, want := range tests {
		if got := IsArchiveFile(name); got != want {
			t.Errorf("IsArchiveFile(%q) = %v, want %v", name, got, want)
		}
	}
	if got := JobName("/in/lichess_2024-01.pgn.zst"); got != "lichess_2024-01" {
		t.Errorf("JobName = %q", got)
	}
	if got := JobName("games.pgn"); got != "games" {
		t.Errorf("JobName = %q", got)
	}
}

func TestScanMovesProcessed(t *testing.T) {
	watch := t.TempDir()
	p := newPool(t)
	w, err := NewWorker(Config{WatchDir: watch}, p)
	if err != nil {
		t.Fatal(err)
	}

	pgntest.WriteZst(t, watch, "a.pgn.zst", pgntest.Corpus(pgntest.Mixed(30)), 1)
	pgntest.WriteZst(t, watch, "b.pgn.zst", pgntest.Corpus(pgntest.Mixed(30)), 2)
	bad := filepath.Join(watch, "bad.pgn.zst")
	if err := os.WriteFile(bad, []byte("not zstd at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(watch, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	moved, err := w.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	for _, n := range []string{"a.pgn.zst", "b.pgn.zst"} {
		if _, err := os.Stat(filepath.Join(watch, "processed", n)); err != nil {
			t.Errorf("%s not moved: %v", n, err)
		}
	}
	if _, err := os.Stat(bad); err != nil {
		t.Errorf("failed archive should stay in place: %v", err)
	}

	// The failed archive is not retried until it changes.
	before := len(p.Completed())
	if moved, err := w.Scan(context.Background()); err != nil || moved != 0 {
		t.Fatalf("second scan = %d, %v", moved, err)
	}
	if len(p.Completed()) != before {
		t.Error("unchanged failed archive was enqueued again")
	}

	pgntest.WriteZst(t, watch, "bad.pgn.zst", pgntest.Corpus(pgntest.Mixed(10)), 1)
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(bad, later, later); err != nil {
		t.Fatal(err)
	}
	if moved, err := w.Scan(context.Background()); err != nil || moved != 1 {
		t.Fatalf("scan after fix = %d, %v", moved, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w, err := NewWorker(Config{WatchDir: t.TempDir(), PollInterval: time.Millisecond}, newPool(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
}

func TestNewWorkerNeedsDir(t *testing.T) {
	if _, err := NewWorker(Config{}, nil); err == nil {
		t.Error("NewWorker without watch dir succeeded")
	}
}
