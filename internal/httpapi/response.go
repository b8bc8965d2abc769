package httpapi

import (
	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/job"
	"github.com/freeeve/pgnzst/internal/pool"
)

// StatusResponse is the JSON body of /v1/status.
type StatusResponse struct {
	Queued    int                  `json:"queued"`
	Running   []JobResponse        `json:"running"`
	Completed []CompletionResponse `json:"completed"`
}

type JobResponse struct {
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	RunID       string           `json:"run_id"`
	Size        int64            `json:"size"`
	BytesRead   int64            `json:"bytes_read"`
	Pct         float64          `json:"pct"`
	Games       int64            `json:"games"`
	Accepted    int64            `json:"accepted"`
	Malformed   int64            `json:"malformed"`
	Truncated   int64            `json:"truncated"`
	Rejected    map[string]int64 `json:"rejected,omitempty"`
	GamesPerSec float64          `json:"games_per_sec"`
	ElapsedSec  float64          `json:"elapsed_sec"`
	ETASec      float64          `json:"eta_sec"`
}

type CompletionResponse struct {
	Name       string  `json:"name"`
	RunID      string  `json:"run_id"`
	Accepted   int64   `json:"accepted"`
	Games      int64   `json:"games"`
	Failed     bool    `json:"failed,omitempty"`
	Error      string  `json:"error,omitempty"`
	ElapsedSec float64 `json:"elapsed_sec"`
	Files      int     `json:"files"`
}

// ToStatusResponse converts pool snapshots to the JSON shape.
func ToStatusResponse(running []job.Progress, done []pool.Completion, queued int) *StatusResponse {
	resp := &StatusResponse{
		Queued:    queued,
		Running:   make([]JobResponse, 0, len(running)),
		Completed: make([]CompletionResponse, 0, len(done)),
	}
	for _, p := range running {
		jr := JobResponse{
			Name:        p.Job.Name,
			Path:        p.Job.Path,
			RunID:       p.RunID,
			Size:        p.Size,
			BytesRead:   p.BytesRead,
			Pct:         100 * p.Fraction(),
			Games:       p.Total,
			Accepted:    p.Accepted,
			Malformed:   p.Malformed,
			Truncated:   p.Truncated,
			GamesPerSec: p.GamesPerSec(),
			ElapsedSec:  p.Elapsed.Seconds(),
			ETASec:      p.ETA().Seconds(),
		}
		for i, n := range p.Rejected {
			if n == 0 || classify.Reason(i) == classify.Accepted {
				continue
			}
			if jr.Rejected == nil {
				jr.Rejected = make(map[string]int64)
			}
			jr.Rejected[classify.Reason(i).String()] = n
		}
		resp.Running = append(resp.Running, jr)
	}
	for _, c := range done {
		cr := CompletionResponse{
			Name:       c.Name,
			RunID:      c.RunID,
			Accepted:   c.Accepted,
			Games:      c.Total,
			Failed:     c.Failed,
			ElapsedSec: c.Elapsed.Seconds(),
			Files:      len(c.Files),
		}
		if c.Err != nil {
			cr.Error = c.Err.Error()
		}
		resp.Completed = append(resp.Completed, cr)
	}
	return resp
}
