// Package record splits a stream of decompressed PGN bytes into complete
// game records. A Splitter carries at most one partial record between
// Feed calls, so the records it emits do not depend on where the stream
// was cut into chunks.
//
// A stream decoded as several independent shards is split by one Splitter
// per shard. Every shard after the first uses a seam splitter, which holds
// back the bytes before its first certain record start; Stitch joins those
// bytes with the previous shard's pending tail once both shards are done.
package record

import (
	"bytes"

	"github.com/freeeve/pgnzst/internal/game"
)

type phase uint8

const (
	phaseNone phase = iota // before the first tag line
	phaseTags
	phaseBody
)

// Splitter is a boundary-safe record cursor. It is not safe for
// concurrent use; each reader owns its own.
//
// Records returned by Feed stay valid after later calls: the splitter
// never writes to a buffer it has handed out spans of.
type Splitter struct {
	buf   []byte
	start int // start of the pending record in buf
	scan  int // start of the first unprocessed line in buf
	phase phase

	seam      bool
	headDone  bool
	head      []byte
	lines     int
	prevBlank bool
}

// NewSplitter returns a splitter for a stream that starts at the
// beginning of the archive.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// NewSeamSplitter returns a splitter for a shard that starts at an
// arbitrary byte of the stream. Bytes up to the first tag line that
// follows a blank line are kept as the shard head.
func NewSeamSplitter() *Splitter {
	return &Splitter{seam: true}
}

// Feed appends chunk to the carry buffer and returns every record
// completed by it. The chunk is copied; the caller may reuse it.
func (s *Splitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)
	var out [][]byte
	for {
		i := bytes.IndexByte(s.buf[s.scan:], '\n')
		if i < 0 {
			break
		}
		ls := s.scan
		s.scan += i + 1
		out = s.line(out, ls, ls+i)
	}
	s.compact(len(out) > 0)
	return out
}

// Finish ends the stream. A pending record is returned only if it carries
// a result token; otherwise it is dropped and truncated reports true.
// The splitter must not be used afterwards.
func (s *Splitter) Finish() (out [][]byte, truncated bool) {
	out = s.lastLine(out)
	if s.pending() {
		rec := trimRecord(s.buf[s.start:])
		if game.HasResult(rec) {
			out = append(out, rec)
		} else {
			truncated = len(rec) > 0
		}
	}
	s.phase = phaseNone
	return out, truncated
}

// Drain ends a stream that is known to stop at a record boundary and
// returns the pending record unconditionally.
func (s *Splitter) Drain() [][]byte {
	out := s.lastLine(nil)
	if s.pending() {
		if rec := trimRecord(s.buf[s.start:]); len(rec) > 0 {
			out = append(out, rec)
		}
	}
	s.phase = phaseNone
	return out
}

// Fragment is what a shard leaves for Stitch: the bytes before its first
// certain record start and the bytes of its still pending record.
type Fragment struct {
	Head []byte
	Tail []byte
	// HasRecord is false when the shard never saw a certain record start;
	// all of its bytes are then in Head.
	HasRecord bool
}

// End finishes a shard without deciding its last record and returns its
// fragment. The unterminated last line is left in the fragment unprocessed.
func (s *Splitter) End() Fragment {
	if s.seam && !s.headDone {
		return Fragment{Head: s.buf}
	}
	f := Fragment{Head: s.head, HasRecord: true}
	if s.phase != phaseNone {
		f.Tail = s.buf[s.start:]
	} else {
		f.Tail = s.buf[s.scan:]
	}
	return f
}

// Stitch splits the records that straddle shard seams. frags must be in
// shard order, the first from NewSplitter and the rest from
// NewSeamSplitter. The final pending record is kept only if it carries a
// result token, as in Finish.
func Stitch(frags []Fragment) (out [][]byte, truncated bool) {
	var carry []byte
	for _, f := range frags {
		carry = append(carry, f.Head...)
		if !f.HasRecord {
			continue
		}
		if len(carry) > 0 {
			s := NewSplitter()
			out = append(out, s.Feed(carry)...)
			out = append(out, s.Drain()...)
		}
		carry = append([]byte(nil), f.Tail...)
	}
	s := NewSplitter()
	out = append(out, s.Feed(carry)...)
	last, truncated := s.Finish()
	return append(out, last...), truncated
}

// SplitAll splits a whole in-memory stream. The second result is the
// number of truncated records dropped at the end (0 or 1).
func SplitAll(data []byte) ([][]byte, int) {
	s := NewSplitter()
	out := s.Feed(data)
	last, truncated := s.Finish()
	out = append(out, last...)
	if truncated {
		return out, 1
	}
	return out, 0
}

func (s *Splitter) pending() bool {
	return s.phase != phaseNone && !(s.seam && !s.headDone)
}

func (s *Splitter) lastLine(out [][]byte) [][]byte {
	if s.scan < len(s.buf) {
		ls := s.scan
		s.scan = len(s.buf)
		out = s.line(out, ls, len(s.buf))
	}
	return out
}

var eventTag = []byte(`[Event "`)

func (s *Splitter) line(out [][]byte, ls, le int) [][]byte {
	t := bytes.TrimSpace(s.buf[ls:le])
	tag := game.IsTagLine(t)

	if s.seam && !s.headDone {
		// The first line of a shard may be the tail of a line cut by the
		// shard boundary, so it never counts as blank.
		if tag && s.prevBlank {
			s.headDone = true
			s.head = append([]byte(nil), s.buf[:ls]...)
			s.start = ls
			s.phase = phaseTags
			return out
		}
		s.prevBlank = s.lines > 0 && len(t) == 0
		s.lines++
		return out
	}

	switch s.phase {
	case phaseNone:
		if tag {
			s.start = ls
			s.phase = phaseTags
		}
	case phaseTags:
		if !tag {
			s.phase = phaseBody
			break
		}
		// A second Event tag opens the next game: the current one has
		// tags only and no movetext.
		if ls > s.start && bytes.HasPrefix(t, eventTag) {
			if rec := trimRecord(s.buf[s.start:ls]); len(rec) > 0 {
				out = append(out, rec)
			}
			s.start = ls
		}
	case phaseBody:
		if tag {
			if rec := trimRecord(s.buf[s.start:ls]); len(rec) > 0 {
				out = append(out, rec)
			}
			s.start = ls
			s.phase = phaseTags
		}
	}
	return out
}

// compact drops bytes that can no longer be part of a record. When spans
// were emitted the carry moves to a fresh buffer so they are never
// overwritten.
func (s *Splitter) compact(emitted bool) {
	keep := s.scan
	switch {
	case s.seam && !s.headDone:
		keep = 0
	case s.phase != phaseNone:
		keep = s.start
	}
	if keep == 0 && !emitted {
		return
	}
	rest := s.buf[keep:]
	if emitted {
		s.buf = append(make([]byte, 0, len(rest)+len(rest)/2), rest...)
	} else {
		s.buf = s.buf[:copy(s.buf, rest)]
	}
	s.scan -= keep
	if s.start >= keep {
		s.start -= keep
	} else {
		s.start = 0
	}
}

func trimRecord(b []byte) []byte {
	return bytes.TrimRight(b, " \t\r\n")
}
