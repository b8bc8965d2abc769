// Package game holds the structured per-game record extracted from one PGN
// record and the tag-block parser that produces it.
package game

import "errors"

// ErrMalformedRecord is returned for a record without a recognizable result.
var ErrMalformedRecord = errors.New("malformed record")

// Optional holds a value that may be absent. Absent and zero are distinct.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// Result is the game outcome. The numeric codes are stored in output files.
type Result int8

const (
	WhiteWin Result = 0
	BlackWin Result = 1
	Draw     Result = 2
	Unknown  Result = 3
)

func (r Result) String() string {
	switch r {
	case WhiteWin:
		return "1-0"
	case BlackWin:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// ParseResult maps a PGN result token to a Result.
// The second return is false when the token is not a result token.
func ParseResult(tok []byte) (Result, bool) {
	switch string(tok) {
	case "1-0":
		return WhiteWin, true
	case "0-1":
		return BlackWin, true
	case "1/2-1/2":
		return Draw, true
	case "*":
		return Unknown, true
	}
	return Unknown, false
}

// Game is the structured content of one record.
type Game struct {
	WhiteElo             Optional[int]
	BlackElo             Optional[int]
	TimeControlBase      Optional[int] // seconds
	TimeControlIncrement Optional[int] // seconds per move
	Result               Result
	Termination          string

	MovetextLen  int
	MovetextHash uint64
	Movetext     string // only set when the parser keeps movetext
}
