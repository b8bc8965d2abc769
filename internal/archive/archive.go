// Package archive streams decompressed chunks out of a zstd compressed PGN
// archive. An archive made of several zstd frames can be cut into shards
// at frame boundaries and each shard decoded by its own reader.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrIO is returned when the archive file cannot be opened or read.
	ErrIO = errors.New("archive i/o error")
	// ErrDecompression is returned for corrupt or truncated zstd data.
	ErrDecompression = errors.New("archive decompression error")
)

const (
	// DefaultChunkBytes is the decompressed chunk size used when Options
	// leaves it unset.
	DefaultChunkBytes = 1 << 20

	readBufferSize = 256 << 10
)

// Options configures Open.
type Options struct {
	// Readers is the number of shards to aim for. The archive may yield
	// fewer when it has fewer frames.
	Readers int
	// ChunkBytes is the size of the decompressed chunks returned by Next.
	ChunkBytes int
}

// Archive is one open input file.
type Archive struct {
	path   string
	f      *os.File
	size   int64
	shards []*Shard
}

// Open opens path and cuts it into shards.
func Open(path string, opts Options) (*Archive, error) {
	if opts.Readers < 1 {
		opts.Readers = 1
	}
	if opts.ChunkBytes < 1 {
		opts.ChunkBytes = DefaultChunkBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}

	bounds, err := FrameBoundaries(f, st.Size(), opts.Readers)
	if err != nil {
		f.Close()
		return nil, err
	}

	a := &Archive{path: path, f: f, size: st.Size()}
	for i, lo := range bounds {
		hi := a.size
		if i+1 < len(bounds) {
			hi = bounds[i+1]
		}
		cr := &countingReader{r: io.NewSectionReader(f, lo, hi-lo)}
		a.shards = append(a.shards, &Shard{
			Index:  i,
			Offset: lo,
			Length: hi - lo,
			src:    cr,
			buf:    bufio.NewReaderSize(cr, readBufferSize),
			chunk:  opts.ChunkBytes,
		})
	}
	return a, nil
}

// Path returns the archive path.
func (a *Archive) Path() string { return a.path }

// Size returns the compressed size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Shards returns the shards in stream order.
func (a *Archive) Shards() []*Shard { return a.shards }

// BytesRead returns the compressed bytes consumed over all shards.
func (a *Archive) BytesRead() int64 {
	var n int64
	for _, s := range a.shards {
		n += s.BytesRead()
	}
	return n
}

// Close releases the decoders and the file.
func (a *Archive) Close() error {
	for _, s := range a.shards {
		s.close()
	}
	return a.f.Close()
}

// Shard is a byte range of the archive that starts at a frame boundary.
// Next must be called from one goroutine only; BytesRead may be called
// from any.
type Shard struct {
	Index  int
	Offset int64
	Length int64

	src   *countingReader
	buf   *bufio.Reader
	dec   *zstd.Decoder
	chunk int
	done  bool
	err   error
}

// Next returns the next decompressed chunk, io.EOF at the end of the
// shard, or an error wrapping ErrIO or ErrDecompression. A chunk is only
// shorter than the chunk size at the end of the shard.
func (s *Shard) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}
	if s.dec == nil {
		dec, err := zstd.NewReader(s.buf, zstd.WithDecoderConcurrency(1))
		if err != nil {
			s.err = fmt.Errorf("%w: %w", ErrDecompression, err)
			return nil, s.err
		}
		s.dec = dec
	}

	buf := make([]byte, s.chunk)
	n := 0
	for n < len(buf) {
		m, err := s.dec.Read(buf[n:])
		n += m
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			s.err = s.classify(err)
			break
		}
	}
	if n > 0 {
		return buf[:n], nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

// BytesRead returns the compressed bytes consumed from this shard.
func (s *Shard) BytesRead() int64 {
	return s.src.n.Load()
}

func (s *Shard) classify(err error) error {
	if ioErr := s.src.failure(); ioErr != nil {
		return fmt.Errorf("%w: shard %d at byte %d: %w", ErrIO, s.Index, s.Offset+s.BytesRead(), ioErr)
	}
	return fmt.Errorf("%w: shard %d: %w", ErrDecompression, s.Index, err)
}

func (s *Shard) close() {
	if s.dec != nil {
		s.dec.Close()
	}
}

// countingReader counts bytes read from the file and remembers the first
// read error so it can be told apart from a corrupt stream.
type countingReader struct {
	r io.Reader
	n atomic.Int64

	mu  sync.Mutex
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	if err != nil && err != io.EOF {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
	}
	return n, err
}

func (c *countingReader) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
