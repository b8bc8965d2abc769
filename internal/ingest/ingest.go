// Package ingest watches a directory for new archives, feeds them to a
// parser pool and moves every successfully bucketed archive aside.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/pgnzst/internal/pool"
)

// ArchiveExt is the extension of input archives.
const ArchiveExt = ".pgn.zst"

// Pool is the part of pool.Pool the worker drives.
type Pool interface {
	Enqueue(path, name string) error
	Join()
	Completed() []pool.Completion
}

// Config configures the ingest worker.
type Config struct {
	WatchDir     string         // Directory to watch for archives
	ProcessedDir string         // Directory to move bucketed archives to
	PollInterval time.Duration  // How often to check for new files
	Logger       zerolog.Logger // Logger
}

// Worker watches a folder and hands new archives to a pool.
type Worker struct {
	cfg    Config
	pool   Pool
	log    zerolog.Logger
	failed map[string]time.Time // path -> mod time of the failed attempt
}

// NewWorker creates a new ingest worker.
func NewWorker(cfg Config, p Pool) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, errors.New("ingest: watch dir must not be empty")
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}

	// Ensure directories exist
	if err := os.MkdirAll(cfg.WatchDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0755); err != nil {
		return nil, err
	}

	return &Worker{
		cfg:    cfg,
		pool:   p,
		log:    cfg.Logger,
		failed: make(map[string]time.Time),
	}, nil
}

// Run scans the watch directory every PollInterval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Dur("poll", w.cfg.PollInterval).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("scan failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan enqueues every archive in the watch directory, waits for the pool
// to finish them and moves the successful ones to ProcessedDir. An archive
// that failed is skipped by later scans until its modification time
// changes. Scan returns the number of archives moved.
func (w *Worker) Scan(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return 0, err
	}

	// Collect archives
	type file struct {
		path, name string
		mod        time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !IsArchiveFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.WatchDir, e.Name())
		if mod, ok := w.failed[path]; ok && mod.Equal(info.ModTime()) {
			continue
		}
		files = append(files, file{path: path, name: JobName(e.Name()), mod: info.ModTime()})
	}
	if len(files) == 0 {
		return 0, nil
	}

	// Sort by name to process in order
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	w.log.Info().Int("files", len(files)).Msg("found archives to process")

	for _, f := range files {
		if err := w.pool.Enqueue(f.path, f.name); err != nil {
			return 0, err
		}
	}
	w.pool.Join()

	latest := make(map[string]pool.Completion)
	for _, c := range w.pool.Completed() {
		latest[c.Path] = c
	}

	var moved, failed int
	for _, f := range files {
		c, ok := latest[f.path]
		if !ok || c.Failed {
			w.failed[f.path] = f.mod
			failed++
			continue
		}
		delete(w.failed, f.path)

		destPath := filepath.Join(w.cfg.ProcessedDir, filepath.Base(f.path))
		if err := os.Rename(f.path, destPath); err != nil {
			w.log.Warn().Err(err).Str("file", f.name).Msg("move to processed failed")
			continue
		}
		w.log.Info().Str("file", f.name).Int64("accepted", c.Accepted).Msg("moved to processed")
		moved++
	}

	w.log.Info().Int("processed", moved).Int("failed", failed).Msg("batch complete")
	return moved, nil
}

// IsArchiveFile reports whether name has the .pgn.zst extension.
func IsArchiveFile(name string) bool {
	if filepath.Ext(name) != ".zst" {
		return false
	}
	return filepath.Ext(strings.TrimSuffix(name, ".zst")) == ".pgn"
}

// JobName is the base name of path without the archive extension.
func JobName(path string) string {
	base := filepath.Base(path)
	if IsArchiveFile(base) {
		return strings.TrimSuffix(base, ArchiveExt)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
