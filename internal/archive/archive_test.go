package archive

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/freeeve/pgnzst/internal/pgntest"
)

func readAll(t *testing.T, a *Archive) []byte {
	t.Helper()
	var out []byte
	for _, s := range a.Shards() {
		for {
			chunk, err := s.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("shard %d: %v", s.Index, err)
			}
			out = append(out, chunk...)
		}
	}
	return out
}

func TestReadSingleFrame(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(50))
	path := pgntest.WriteZst(t, t.TempDir(), "one.pgn.zst", data, 1)

	a, err := Open(path, Options{Readers: 4, ChunkBytes: 1000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if got := len(a.Shards()); got != 1 {
		t.Errorf("shards = %d, want 1 for a single frame", got)
	}
	s := a.Shards()[0]
	var chunks int
	var out []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks++
		if len(chunk) > 1000 {
			t.Fatalf("chunk of %d bytes exceeds chunk size", len(chunk))
		}
		out = append(out, chunk...)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("decompressed %d bytes, want %d", len(out), len(data))
	}
	if want := (len(data) + 999) / 1000; chunks != want {
		t.Errorf("chunks = %d, want %d", chunks, want)
	}
	if a.BytesRead() != a.Size() {
		t.Errorf("BytesRead = %d, want %d", a.BytesRead(), a.Size())
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next after end = %v, want io.EOF", err)
	}
}

func TestReadShardedFrames(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(400))
	path := pgntest.WriteZst(t, t.TempDir(), "multi.pgn.zst", data, 8)

	for _, readers := range []int{1, 2, 3, 8, 20} {
		a, err := Open(path, Options{Readers: readers, ChunkBytes: 4096})
		if err != nil {
			t.Fatalf("Open(readers=%d): %v", readers, err)
		}
		if n := len(a.Shards()); n < 1 || n > readers {
			t.Errorf("readers=%d: shards = %d", readers, n)
		}
		if readers >= 2 && len(a.Shards()) < 2 {
			t.Errorf("readers=%d: archive of 8 frames not sharded", readers)
		}
		got := readAll(t, a)
		if !bytes.Equal(got, data) {
			t.Errorf("readers=%d: reassembled %d bytes, want %d", readers, len(got), len(data))
		}
		if a.BytesRead() != a.Size() {
			t.Errorf("readers=%d: BytesRead = %d, want %d", readers, a.BytesRead(), a.Size())
		}
		a.Close()
	}
}

func TestFrameBoundariesAreFrameStarts(t *testing.T) {
	data := pgntest.Corpus(pgntest.Mixed(200))
	frames := 6

	var starts []int64
	var compressed []byte
	for i := 0; i < frames; i++ {
		starts = append(starts, int64(len(compressed)))
		lo, hi := len(data)*i/frames, len(data)*(i+1)/frames
		compressed = append(compressed, pgntest.Compress(t, data[lo:hi], 1)...)
	}
	isStart := make(map[int64]bool)
	for _, s := range starts {
		isStart[s] = true
	}

	r := bytes.NewReader(compressed)
	bounds, err := FrameBoundaries(r, int64(len(compressed)), frames)
	if err != nil {
		t.Fatalf("FrameBoundaries: %v", err)
	}
	if bounds[0] != 0 {
		t.Errorf("bounds[0] = %d, want 0", bounds[0])
	}
	for i, b := range bounds {
		if !isStart[b] {
			t.Errorf("bound %d at byte %d is not a frame start %v", i, b, starts)
		}
		if i > 0 && b <= bounds[i-1] {
			t.Errorf("bounds not increasing: %v", bounds)
		}
	}
	if len(bounds) < 2 {
		t.Errorf("bounds = %v, want several shards", bounds)
	}

	one, err := FrameBoundaries(r, int64(len(compressed)), 1)
	if err != nil || len(one) != 1 || one[0] != 0 {
		t.Errorf("FrameBoundaries(n=1) = %v, %v, want [0]", one, err)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.pgn.zst"), Options{})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Open error = %v, want ErrIO", err)
	}
}

func TestCorruptStream(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.pgn.zst")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte("not zstd at all "), 100), 0o644); err != nil {
		t.Fatal(err)
	}
	assertDecompressionError(t, garbage)

	comp := pgntest.Compress(t, pgntest.Corpus(pgntest.Mixed(30)), 1)
	for i := len(comp) / 2; i < len(comp)/2+16; i++ {
		comp[i] ^= 0x5a
	}
	flipped := filepath.Join(dir, "flipped.pgn.zst")
	if err := os.WriteFile(flipped, comp, 0o644); err != nil {
		t.Fatal(err)
	}
	assertDecompressionError(t, flipped)
}

func assertDecompressionError(t *testing.T, path string) {
	t.Helper()
	a, err := Open(path, Options{Readers: 2, ChunkBytes: 512})
	if err != nil {
		t.Fatalf("Open(%s): %v", filepath.Base(path), err)
	}
	defer a.Close()
	for _, s := range a.Shards() {
		for {
			_, err := s.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				if !errors.Is(err, ErrDecompression) {
					t.Fatalf("%s: error = %v, want ErrDecompression", filepath.Base(path), err)
				}
				// The error is sticky.
				if _, again := s.Next(); !errors.Is(again, ErrDecompression) {
					t.Errorf("second Next = %v, want the same error", again)
				}
				return
			}
		}
	}
	t.Fatalf("%s: read to the end without error", filepath.Base(path))
}
