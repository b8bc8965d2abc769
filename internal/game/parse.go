package game

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Parser extracts a Game from the bytes of one complete record.
// Only the tag block is inspected; movetext is measured and hashed.
type Parser struct {
	KeepMovetext bool
}

// Parse parses rec with the default Parser.
func Parse(rec []byte) (Game, error) {
	return Parser{}.Parse(rec)
}

// Parse returns the Game held in rec. Missing or unparseable numeric tags
// leave the field absent. A record with no recognizable result, neither in
// the Result tag nor as the final movetext token, yields ErrMalformedRecord.
func (p Parser) Parse(rec []byte) (Game, error) {
	var g Game
	var resultTag []byte
	sawTag := false

	rest := rec
	bodyStart := len(rec)
	for len(rest) > 0 {
		lineStart := len(rec) - len(rest)
		line, next := cutLine(rest)
		t := bytes.TrimSpace(line)
		if len(t) == 0 {
			rest = next
			if sawTag {
				bodyStart = len(rec) - len(rest)
				break
			}
			continue
		}
		if !IsTagLine(t) {
			bodyStart = lineStart
			break
		}
		sawTag = true
		rest = next

		key, val := splitTag(t)
		switch string(key) {
		case "WhiteElo":
			g.WhiteElo = parseUint(val)
		case "BlackElo":
			g.BlackElo = parseUint(val)
		case "TimeControl":
			g.TimeControlBase, g.TimeControlIncrement = ParseTimeControl(val)
		case "Result":
			resultTag = val
		case "Termination":
			g.Termination = string(val)
		}
	}

	body := bytes.TrimSpace(rec[bodyStart:])
	g.MovetextLen = len(body)
	g.MovetextHash = xxhash.Sum64(body)
	if p.KeepMovetext {
		g.Movetext = string(body)
	}

	if r, ok := ParseResult(resultTag); ok {
		g.Result = r
		return g, nil
	}
	if r, ok := ParseResult(lastToken(body)); ok {
		g.Result = r
		return g, nil
	}
	return Game{}, fmt.Errorf("%w: no result token", ErrMalformedRecord)
}

// ParseTimeControl parses "base" or "base+increment" (seconds).
// The increment is absent when the value has no "+" part.
func ParseTimeControl(v []byte) (base, inc Optional[int]) {
	v = bytes.TrimSpace(v)
	plus := bytes.IndexByte(v, '+')
	if plus < 0 {
		return parseUint(v), None[int]()
	}
	return parseUint(v[:plus]), parseUint(v[plus+1:])
}

// HasResult reports whether rec ends with a result token. A record cut
// short keeps its Result tag but loses the terminating token, so only the
// movetext end is consulted.
func HasResult(rec []byte) bool {
	_, ok := ParseResult(lastToken(bytes.TrimSpace(rec)))
	return ok
}

// IsTagLine reports whether a trimmed line looks like [Key "Value"].
func IsTagLine(t []byte) bool {
	return len(t) >= 2 && t[0] == '[' && t[len(t)-1] == ']' && bytes.IndexByte(t, '"') > 0
}

func splitTag(t []byte) (key, val []byte) {
	inner := t[1 : len(t)-1]
	sp := bytes.IndexByte(inner, ' ')
	if sp < 0 {
		return inner, nil
	}
	key = inner[:sp]
	val = bytes.TrimSpace(inner[sp+1:])
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		val = val[1 : len(val)-1]
	}
	return key, val
}

func cutLine(b []byte) (line, rest []byte) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i], b[i+1:]
	}
	return b, nil
}

func lastToken(body []byte) []byte {
	i := bytes.LastIndexAny(body, " \t\r\n")
	return body[i+1:]
}

// parseUint accepts plain decimal digits only; "?", "-" and the empty
// string are absent.
func parseUint(v []byte) Optional[int] {
	if len(v) == 0 || len(v) > 9 {
		return None[int]()
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return None[int]()
		}
		n = n*10 + int(c-'0')
	}
	return Some(n)
}
