package job

import (
	"sync/atomic"
	"time"

	"github.com/freeeve/pgnzst/internal/archive"
	"github.com/freeeve/pgnzst/internal/classify"
)

// State is the lifecycle state of a file job.
type State int32

const (
	Queued State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Tracker collects the live counters of one file job. Workers add to it
// with atomics; readers call Snapshot at any time.
type Tracker struct {
	job   Job
	runID string

	state   atomic.Int32
	failed  atomic.Bool
	started atomic.Int64 // unix nanos
	ended   atomic.Int64
	arch    atomic.Pointer[archive.Archive]

	total     atomic.Int64
	accepted  atomic.Int64
	malformed atomic.Int64
	truncated atomic.Int64
	rejected  [classify.NumReasons]atomic.Int64
}

// NewTracker creates a tracker in the Queued state.
func NewTracker(j Job, runID string) *Tracker {
	return &Tracker{job: j, runID: runID}
}

// Job returns the tracked job.
func (t *Tracker) Job() Job { return t.job }

// RunID returns the run id of the job.
func (t *Tracker) RunID() string { return t.runID }

// State returns the current state.
func (t *Tracker) State() State { return State(t.state.Load()) }

// Accepted returns the accepted game count so far.
func (t *Tracker) Accepted() int64 { return t.accepted.Load() }

// Total returns the number of records seen so far.
func (t *Tracker) Total() int64 { return t.total.Load() }

func (t *Tracker) start() {
	t.started.Store(time.Now().UnixNano())
	t.state.Store(int32(Running))
}

func (t *Tracker) finish(failed bool) {
	t.failed.Store(failed)
	t.ended.Store(time.Now().UnixNano())
	t.state.Store(int32(Completed))
}

func (t *Tracker) add(c *tally) {
	t.total.Add(c.total)
	t.malformed.Add(c.malformed)
	var acc int64
	for _, n := range c.accepted {
		acc += n
	}
	t.accepted.Add(acc)
	for i, n := range c.rejected {
		if n != 0 {
			t.rejected[i].Add(n)
		}
	}
}

// ShardProgress is the read position of one shard.
type ShardProgress struct {
	Index     int
	Length    int64
	BytesRead int64
}

// Progress is a point-in-time copy of a Tracker.
type Progress struct {
	Job       Job
	RunID     string
	State     State
	Failed    bool
	Elapsed   time.Duration
	Size      int64
	BytesRead int64
	Shards    []ShardProgress

	Total     int64
	Accepted  int64
	Malformed int64
	Truncated int64
	Rejected  [classify.NumReasons]int64
}

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() Progress {
	p := Progress{
		Job:       t.job,
		RunID:     t.runID,
		State:     t.State(),
		Failed:    t.failed.Load(),
		Total:     t.total.Load(),
		Accepted:  t.accepted.Load(),
		Malformed: t.malformed.Load(),
		Truncated: t.truncated.Load(),
	}
	for i := range t.rejected {
		p.Rejected[i] = t.rejected[i].Load()
	}
	if start := t.started.Load(); start != 0 {
		end := t.ended.Load()
		if end == 0 {
			end = time.Now().UnixNano()
		}
		p.Elapsed = time.Duration(end - start)
	}
	if a := t.arch.Load(); a != nil {
		p.Size = a.Size()
		for _, s := range a.Shards() {
			n := s.BytesRead()
			p.BytesRead += n
			p.Shards = append(p.Shards, ShardProgress{Index: s.Index, Length: s.Length, BytesRead: n})
		}
	}
	return p
}

// GamesPerSec is the record throughput over the elapsed time.
func (p Progress) GamesPerSec() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Total) / p.Elapsed.Seconds()
}

// Fraction is the share of compressed input consumed, in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Size <= 0 {
		return 0
	}
	return min(float64(p.BytesRead)/float64(p.Size), 1)
}

// ETA extrapolates the remaining time from the bytes consumed so far.
// It is zero until some input has been read.
func (p Progress) ETA() time.Duration {
	if p.BytesRead <= 0 || p.Size <= p.BytesRead {
		return 0
	}
	remaining := float64(p.Size-p.BytesRead) * float64(p.Elapsed) / float64(p.BytesRead)
	return time.Duration(remaining)
}

// tally is a worker-local batch of counters flushed into a Tracker.
type tally struct {
	total     int64
	malformed int64
	accepted  []int64 // per bucket
	rejected  [classify.NumReasons]int64
}

func newTally(buckets int) *tally {
	return &tally{accepted: make([]int64, buckets)}
}

func (c *tally) reset() {
	c.total, c.malformed = 0, 0
	clear(c.accepted)
	c.rejected = [classify.NumReasons]int64{}
}
