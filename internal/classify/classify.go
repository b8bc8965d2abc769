// Package classify decides whether a game is kept and which rating bucket
// it lands in. Everything here is a pure function of the game and a
// Config that is fixed for the lifetime of a pool.
package classify

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/freeeve/pgnzst/internal/game"
)

// Rejected is the bucket index returned for games that are not kept.
const Rejected = -1

// Edges is a strictly increasing rating edge table. It defines
// len(edges)+1 buckets: (-inf, e0), [e0, e1), ..., [e_last, +inf).
type Edges []int

// NewEdges validates and copies an edge table.
func NewEdges(edges []int) (Edges, error) {
	if len(edges) == 0 {
		return nil, errors.New("rating edges must not be empty")
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, fmt.Errorf("rating edges must be strictly increasing: %d follows %d", edges[i], edges[i-1])
		}
	}
	return append(Edges(nil), edges...), nil
}

// ParseEdges parses a comma separated edge list such as "1000,1200,1400".
func ParseEdges(s string) (Edges, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("rating edge %q: %w", part, err)
		}
		out = append(out, n)
	}
	return NewEdges(out)
}

// NumBuckets returns len(e)+1.
func (e Edges) NumBuckets() int {
	return len(e) + 1
}

// Bucket returns the number of edges <= rating, so an edge value itself
// routes to the bucket above it.
func (e Edges) Bucket(rating int) int {
	return sort.Search(len(e), func(i int) bool { return e[i] > rating })
}

// Label names bucket i for output paths: elo-min-1000, elo-1000-1200,
// ..., elo-3000-max.
func (e Edges) Label(i int) string {
	lo, hi := "min", "max"
	if i > 0 {
		lo = strconv.Itoa(e[i-1])
	}
	if i < len(e) {
		hi = strconv.Itoa(e[i])
	}
	return "elo-" + lo + "-" + hi
}

// Layout is the bucket set a Config writes into. With Pairs each bucket
// is a (white, black) pair of edge buckets: index w*n + b, where n is
// Edges.NumBuckets(), labelled "<white label>/<black label>".
type Layout struct {
	Edges Edges
	Pairs bool
}

// NumBuckets returns the number of buckets in the layout.
func (l Layout) NumBuckets() int {
	n := l.Edges.NumBuckets()
	if l.Pairs {
		return n * n
	}
	return n
}

// Label names bucket i. Pair labels contain a slash and so map to two
// directory levels.
func (l Layout) Label(i int) string {
	if !l.Pairs {
		return l.Edges.Label(i)
	}
	n := l.Edges.NumBuckets()
	return l.Edges.Label(i/n) + "/" + l.Edges.Label(i%n)
}

// Pair returns the bucket of a (white, black) rating pair.
func (l Layout) Pair(white, black int) int {
	return l.Edges.Bucket(white)*l.Edges.NumBuckets() + l.Edges.Bucket(black)
}

// RatingPolicy selects the representative rating of a game.
type RatingPolicy int

const (
	// PolicyMean averages both ratings (floor), or uses the one present.
	PolicyMean RatingPolicy = iota
	// PolicyMin takes the lower rating, or the one present.
	PolicyMin
	// PolicyMax takes the higher rating, or the one present.
	PolicyMax
	// PolicyWhite requires and uses the white rating.
	PolicyWhite
	// PolicyBlack requires and uses the black rating.
	PolicyBlack
	// PolicyPair requires both ratings and buckets each player on its
	// own; see Layout. Its single Rating is the mean.
	PolicyPair
)

var policyNames = map[RatingPolicy]string{
	PolicyMean:  "mean",
	PolicyMin:   "min",
	PolicyMax:   "max",
	PolicyWhite: "white",
	PolicyBlack: "black",
	PolicyPair:  "pair",
}

func (p RatingPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "policy(" + strconv.Itoa(int(p)) + ")"
}

// ParseRatingPolicy maps a policy name to a RatingPolicy. Empty means mean.
func ParseRatingPolicy(s string) (RatingPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PolicyMean, nil
	}
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown rating policy %q", s)
}

// Rating returns the representative rating of g under policy p.
func (p RatingPolicy) Rating(g game.Game) (int, bool) {
	w, hasW := g.WhiteElo.Get()
	b, hasB := g.BlackElo.Get()
	switch p {
	case PolicyWhite:
		return w, hasW
	case PolicyBlack:
		return b, hasB
	case PolicyPair:
		if !hasW || !hasB {
			return 0, false
		}
	}
	switch {
	case hasW && hasB:
		switch p {
		case PolicyMin:
			return min(w, b), true
		case PolicyMax:
			return max(w, b), true
		default:
			return floorDiv(w+b, 2), true
		}
	case hasW:
		return w, true
	case hasB:
		return b, true
	}
	return 0, false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Reason records why Classify kept or rejected a game.
type Reason int

const (
	Accepted Reason = iota
	NoTimeControl
	TimeOutOfRange
	NoIncrement
	IncrementTooLarge
	NoRating
	TerminationRejected
	numReasons
)

// NumReasons is the number of distinct Reason values.
const NumReasons = int(numReasons)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case NoTimeControl:
		return "no_time_control"
	case TimeOutOfRange:
		return "time_out_of_range"
	case NoIncrement:
		return "no_increment"
	case IncrementTooLarge:
		return "increment_too_large"
	case NoRating:
		return "no_rating"
	case TerminationRejected:
		return "termination"
	}
	return "reason(" + strconv.Itoa(int(r)) + ")"
}

// Config is the filter and bucketing configuration.
type Config struct {
	MinSec int
	MaxSec int
	MaxInc int
	Edges  Edges
	Policy RatingPolicy
	// Terminations, when non-empty, keeps only games whose Termination tag
	// contains one of the listed substrings.
	Terminations []string
}

// Layout returns the buckets Classify routes into.
func (c *Config) Layout() Layout {
	return Layout{Edges: c.Edges, Pairs: c.Policy == PolicyPair}
}

// Validate checks the invariants Classify relies on.
func (c *Config) Validate() error {
	if c.MinSec < 0 {
		return fmt.Errorf("minSec must be >= 0, got %d", c.MinSec)
	}
	if c.MaxSec < c.MinSec {
		return fmt.Errorf("maxSec (%d) must be >= minSec (%d)", c.MaxSec, c.MinSec)
	}
	if c.MaxInc < 0 {
		return fmt.Errorf("maxInc must be >= 0, got %d", c.MaxInc)
	}
	if _, err := NewEdges(c.Edges); err != nil {
		return err
	}
	if _, ok := policyNames[c.Policy]; !ok {
		return fmt.Errorf("unknown rating policy %d", int(c.Policy))
	}
	return nil
}

// Classify returns the bucket index for g, or Rejected with the reason.
func Classify(g game.Game, cfg *Config) (int, Reason) {
	base, ok := g.TimeControlBase.Get()
	if !ok {
		return Rejected, NoTimeControl
	}
	if base < cfg.MinSec || base > cfg.MaxSec {
		return Rejected, TimeOutOfRange
	}
	inc, ok := g.TimeControlIncrement.Get()
	if !ok {
		return Rejected, NoIncrement
	}
	if inc > cfg.MaxInc {
		return Rejected, IncrementTooLarge
	}
	if len(cfg.Terminations) > 0 && !matchesAny(g.Termination, cfg.Terminations) {
		return Rejected, TerminationRejected
	}
	if cfg.Policy == PolicyPair {
		w, hasW := g.WhiteElo.Get()
		b, hasB := g.BlackElo.Get()
		if !hasW || !hasB {
			return Rejected, NoRating
		}
		return cfg.Layout().Pair(w, b), Accepted
	}
	rating, ok := cfg.Policy.Rating(g)
	if !ok {
		return Rejected, NoRating
	}
	return cfg.Edges.Bucket(rating), Accepted
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
