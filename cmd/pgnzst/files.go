package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/freeeve/pgnzst/internal/ingest"
)

// input is one archive to enqueue.
type input struct {
	Path string
	Name string
}

// expandInputs resolves paths to archives. Directories contribute their
// *.pgn.zst entries in name order; files are taken as given.
func expandInputs(paths []string) ([]input, error) {
	var out []input
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, input{Path: p, Name: ingest.JobName(p)})
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && ingest.IsArchiveFile(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			path := filepath.Join(p, n)
			out = append(out, input{Path: path, Name: ingest.JobName(path)})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s archives in %s", ingest.ArchiveExt, strings.Join(paths, ", "))
	}
	return out, nil
}
