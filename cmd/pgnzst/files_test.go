package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.pgn.zst", "a.pgn.zst", "notes.txt", "c.pgn"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.pgn.zst"), 0o755); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "c.pgn")

	got, err := expandInputs([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}
	want := []input{
		{Path: filepath.Join(dir, "a.pgn.zst"), Name: "a"},
		{Path: filepath.Join(dir, "b.pgn.zst"), Name: "b"},
		{Path: single, Name: "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandInputs = %+v, want %+v", got, want)
	}

	if _, err := expandInputs([]string{filepath.Join(dir, "missing.pgn.zst")}); err == nil {
		t.Error("missing path accepted")
	}
	if _, err := expandInputs([]string{t.TempDir()}); err == nil {
		t.Error("empty directory accepted")
	}
}
