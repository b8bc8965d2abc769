package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var frameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

const (
	scanWindow = 64 << 10
	probeBytes = 4 << 10
)

// FrameBoundaries returns up to n shard start offsets in r. The first is
// always 0; shard i starts at the first zstd frame found at or after
// i*size/n. Offsets are strictly increasing, so an archive with fewer
// frames than n yields fewer shards.
func FrameBoundaries(r io.ReaderAt, size int64, n int) ([]int64, error) {
	bounds := []int64{0}
	for i := 1; i < n; i++ {
		from := size * int64(i) / int64(n)
		if last := bounds[len(bounds)-1]; from <= last {
			from = last + 1
		}
		off, ok, err := nextFrame(r, size, from)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if off > bounds[len(bounds)-1] {
			bounds = append(bounds, off)
		}
	}
	return bounds, nil
}

// nextFrame scans forward from off for a zstd frame magic that starts a
// frame which actually decodes.
func nextFrame(r io.ReaderAt, size, off int64) (int64, bool, error) {
	buf := make([]byte, scanWindow+len(frameMagic)-1)
	for off < size {
		n, err := r.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return 0, false, fmt.Errorf("%w: scan frames at byte %d: %w", ErrIO, off, err)
		}
		if n < len(frameMagic) {
			return 0, false, nil
		}
		window := buf[:n]
		for i := 0; ; {
			j := bytes.Index(window[i:], frameMagic)
			if j < 0 {
				break
			}
			pos := off + int64(i+j)
			if probeFrame(r, size, pos) {
				return pos, true, nil
			}
			i += j + 1
		}
		if n < len(buf) {
			return 0, false, nil
		}
		// Overlap so a magic straddling two windows is still seen.
		off += int64(n - len(frameMagic) + 1)
	}
	return 0, false, nil
}

// probeFrame reports whether a frame header decodes at pos and the first
// bytes after it decompress cleanly.
func probeFrame(r io.ReaderAt, size, pos int64) bool {
	hdr := make([]byte, zstd.HeaderMaxSize)
	n, err := r.ReadAt(hdr, pos)
	if err != nil && err != io.EOF {
		return false
	}
	var h zstd.Header
	if h.Decode(hdr[:n]) != nil || h.Skippable {
		return false
	}

	dec, err := zstd.NewReader(io.NewSectionReader(r, pos, size-pos), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return false
	}
	defer dec.Close()
	buf := make([]byte, probeBytes)
	for got := 0; got < len(buf); {
		m, err := dec.Read(buf[got:])
		got += m
		if err == io.EOF {
			return got > 0
		}
		if err != nil {
			return false
		}
	}
	return true
}
