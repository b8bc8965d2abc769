package pool

import (
	"errors"
	"fmt"
	"math"

	"github.com/freeeve/pgnzst/internal/bucket"
	"github.com/freeeve/pgnzst/internal/classify"
)

var (
	// ErrInvalidArgument is returned for bad construction parameters and
	// misuse of the runtime API.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed is returned by Enqueue after Close. It wraps
	// ErrInvalidArgument.
	ErrClosed = fmt.Errorf("%w: pool is closed", ErrInvalidArgument)
)

// Config is the fixed configuration of a Pool.
type Config struct {
	NSimultaneous   int    `yaml:"n_simultaneous" envconfig:"N_SIMULTANEOUS"`
	NReadersPerFile int    `yaml:"n_readers_per_file" envconfig:"N_READERS_PER_FILE"`
	NParsersPerFile int    `yaml:"n_parsers_per_file" envconfig:"N_PARSERS_PER_FILE"`
	MinSec          int    `yaml:"min_sec" envconfig:"MIN_SEC"`
	MaxSec          int    `yaml:"max_sec" envconfig:"MAX_SEC"`
	MaxInc          int    `yaml:"max_inc" envconfig:"MAX_INC"`
	Edges           []int  `yaml:"edges" envconfig:"EDGES"`
	ChunkSize       int    `yaml:"chunk_size" envconfig:"CHUNK_SIZE"`     // rows per row group
	PrintFreq       int    `yaml:"print_freq" envconfig:"PRINT_FREQ"`     // seconds between status updates
	PrintOffset     int    `yaml:"print_offset" envconfig:"PRINT_OFFSET"` // first terminal row of the status board
	OutDir          string `yaml:"outdir" envconfig:"OUTDIR"`

	ReadChunkBytes int      `yaml:"read_chunk_bytes" envconfig:"READ_CHUNK_BYTES"` // 0 means 1 MiB
	QueueDepth     int      `yaml:"queue_depth" envconfig:"QUEUE_DEPTH"`           // 0 means 2 x parsers
	BatchRecords   int      `yaml:"batch_records" envconfig:"BATCH_RECORDS"`       // 0 means 256
	RatingPolicy   string   `yaml:"rating_policy" envconfig:"RATING_POLICY"`
	Terminations   []string `yaml:"terminations" envconfig:"TERMINATIONS"`
	KeepMovetext   bool     `yaml:"keep_movetext" envconfig:"KEEP_MOVETEXT"`
	Compression    string   `yaml:"compression" envconfig:"COMPRESSION"`
}

// DefaultConfig returns the stock configuration: one file at a time, two
// readers and four parsers per file, no time-control filtering, and
// 200-point rating buckets from 1000 to 3000.
func DefaultConfig() Config {
	var edges []int
	for e := 1000; e <= 3000; e += 200 {
		edges = append(edges, e)
	}
	return Config{
		NSimultaneous:   1,
		NReadersPerFile: 2,
		NParsersPerFile: 4,
		MinSec:          0,
		MaxSec:          math.MaxInt32,
		MaxInc:          math.MaxInt32,
		Edges:           edges,
		ChunkSize:       1024,
		PrintFreq:       1,
		PrintOffset:     1,
		OutDir:          "pzp-output",
		RatingPolicy:    "mean",
		Compression:     "zstd",
	}
}

// Validate checks every construction parameter. Errors wrap
// ErrInvalidArgument.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.NSimultaneous >= 1, fmt.Sprintf("nSimultaneous must be >= 1, got %d", c.NSimultaneous)},
		{c.NReadersPerFile >= 1, fmt.Sprintf("nReadersPerFile must be >= 1, got %d", c.NReadersPerFile)},
		{c.NParsersPerFile >= 1, fmt.Sprintf("nParsersPerFile must be >= 1, got %d", c.NParsersPerFile)},
		{c.ChunkSize >= 1, fmt.Sprintf("chunkSize must be >= 1, got %d", c.ChunkSize)},
		{c.PrintFreq >= 1, fmt.Sprintf("printFreq must be >= 1, got %d", c.PrintFreq)},
		{c.PrintOffset >= 1, fmt.Sprintf("printOffset must be >= 1, got %d", c.PrintOffset)},
		{c.OutDir != "", "outdir must not be empty"},
		{c.ReadChunkBytes >= 0, fmt.Sprintf("readChunkBytes must be >= 0, got %d", c.ReadChunkBytes)},
		{c.QueueDepth >= 0, fmt.Sprintf("queueDepth must be >= 0, got %d", c.QueueDepth)},
		{c.BatchRecords >= 0, fmt.Sprintf("batchRecords must be >= 0, got %d", c.BatchRecords)},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidArgument, chk.msg)
		}
	}
	if _, err := c.classifyConfig(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := bucket.CompressionOption(c.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c *Config) classifyConfig() (*classify.Config, error) {
	edges, err := classify.NewEdges(c.Edges)
	if err != nil {
		return nil, err
	}
	policy, err := classify.ParseRatingPolicy(c.RatingPolicy)
	if err != nil {
		return nil, err
	}
	cc := &classify.Config{
		MinSec:       c.MinSec,
		MaxSec:       c.MaxSec,
		MaxInc:       c.MaxInc,
		Edges:        edges,
		Policy:       policy,
		Terminations: append([]string(nil), c.Terminations...),
	}
	return cc, cc.Validate()
}
