// Package pgntest builds PGN fixtures and zstd archives for tests.
package pgntest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// DefaultMoves is a legal opening line used when a Fixture has no moves.
const DefaultMoves = "1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 4. Ba4 Nf6 5. O-O Be7"

// Fixture describes one test game. Empty strings omit the tag.
type Fixture struct {
	WhiteElo    string
	BlackElo    string
	TimeControl string
	Result      string // also written as the terminating movetext token
	Termination string
	Moves       string
	Clocks      bool // add {[%clk ...]} comments and wrap the movetext
}

// PGN renders the game as the i-th record of an archive.
func (s Fixture) PGN(i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"Rated Blitz game\"]\n")
	fmt.Fprintf(&b, "[Site \"https://lichess.org/g%07d\"]\n", i)
	fmt.Fprintf(&b, "[White \"white%d\"]\n", i)
	fmt.Fprintf(&b, "[Black \"black%d\"]\n", i)
	tag := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "[%s \"%s\"]\n", k, v)
		}
	}
	tag("Result", s.Result)
	tag("WhiteElo", s.WhiteElo)
	tag("BlackElo", s.BlackElo)
	tag("TimeControl", s.TimeControl)
	tag("Termination", s.Termination)
	b.WriteByte('\n')

	moves := s.Moves
	if moves == "" {
		moves = DefaultMoves
	}
	if s.Clocks {
		var parts []string
		for _, tok := range strings.Fields(moves) {
			if strings.HasSuffix(tok, ".") {
				parts = append(parts, tok)
				continue
			}
			parts = append(parts, tok+" { [%clk 0:02:59] }")
		}
		// Wrap every few plies the way long archive lines are wrapped.
		for i := 0; i < len(parts); i += 4 {
			end := min(i+4, len(parts))
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Join(parts[i:end], " "))
		}
	} else {
		b.WriteString(moves)
	}
	if s.Result != "" {
		b.WriteString(" " + s.Result)
	}
	b.WriteString("\n")
	return b.String()
}

// Corpus renders fixtures as one archive body, records separated by a blank
// line.
func Corpus(fixtures []Fixture) []byte {
	var b strings.Builder
	for i, s := range fixtures {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.PGN(i))
	}
	return []byte(b.String())
}

// Mixed returns n deterministic fixtures covering accepted games and every
// rejection path: missing ratings, missing or partial time controls, and
// unknown results.
func Mixed(n int) []Fixture {
	results := []string{"1-0", "0-1", "1/2-1/2", "*"}
	controls := []string{"300+2", "180+0", "60", "-", "600+5", "15+0", "900+10", ""}
	out := make([]Fixture, n)
	for i := range out {
		s := Fixture{
			WhiteElo:    fmt.Sprint(800 + (i*137)%2400),
			BlackElo:    fmt.Sprint(900 + (i*251)%2300),
			TimeControl: controls[i%len(controls)],
			Result:      results[i%len(results)],
			Termination: "Normal",
			Clocks:      i%3 == 0,
		}
		switch i % 11 {
		case 3:
			s.WhiteElo = "?"
		case 7:
			s.WhiteElo, s.BlackElo = "", ""
		}
		if i%13 == 5 {
			s.Termination = "Time forfeit"
		}
		out[i] = s
	}
	return out
}

// Compress encodes data as frames independent zstd frames, cutting the
// input at even byte offsets with no regard for record boundaries.
func Compress(t testing.TB, data []byte, frames int) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()

	if frames < 1 {
		frames = 1
	}
	var out []byte
	for i := 0; i < frames; i++ {
		lo := len(data) * i / frames
		hi := len(data) * (i + 1) / frames
		out = enc.EncodeAll(data[lo:hi], out)
	}
	return out
}

// WriteZst writes data compressed into frames frames to dir/name and
// returns the path.
func WriteZst(t testing.TB, dir, name string, data []byte, frames int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Compress(t, data, frames), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
