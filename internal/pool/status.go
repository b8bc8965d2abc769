package pool

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/freeeve/pgnzst/internal/job"
)

// Info returns one status line per running job, each followed by one
// indented line per shard.
func (p *Pool) Info() []string {
	return statusLines(p.Progress())
}

func statusLines(progress []job.Progress) []string {
	var lines []string
	for _, pr := range progress {
		lines = append(lines, formatStatus(pr))
		for _, s := range pr.Shards {
			lines = append(lines, formatShard(s))
		}
	}
	return lines
}

func formatStatus(p job.Progress) string {
	return fmt.Sprintf("%s: %5.1f%% %s/%s %.0f games/s %d accepted eta %s",
		p.Job.Name,
		100*p.Fraction(),
		bytesize.New(float64(p.BytesRead)),
		bytesize.New(float64(p.Size)),
		p.GamesPerSec(),
		p.Accepted,
		formatETA(p.ETA()),
	)
}

func formatShard(s job.ShardProgress) string {
	pct := 0.0
	if s.Length > 0 {
		pct = 100 * float64(s.BytesRead) / float64(s.Length)
	}
	return fmt.Sprintf("  shard %d: %5.1f%% %s/%s", s.Index, pct,
		bytesize.New(float64(s.BytesRead)), bytesize.New(float64(s.Length)))
}

// formatETA renders d as h:mm:ss, or "--:--:--" when unknown.
func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	s := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}

// renderBoard writes lines at consecutive terminal rows starting at
// offset and blanks rows left over from a taller previous board. It
// returns the number of rows it now owns.
func renderBoard(w io.Writer, offset, prev int, lines []string) (int, error) {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "\x1b[%d;1H\x1b[2K%s", offset+i, l)
	}
	for i := len(lines); i < prev; i++ {
		fmt.Fprintf(&b, "\x1b[%d;1H\x1b[2K", offset+i)
	}
	_, err := io.WriteString(w, b.String())
	return len(lines), err
}

// board logs progress every PrintFreq seconds and, with a status writer,
// redraws the status board.
func (p *Pool) board() {
	defer close(p.boardDone)
	t := time.NewTicker(time.Duration(p.cfg.PrintFreq) * time.Second)
	defer t.Stop()

	rows := 0
	for {
		select {
		case <-p.stopBoard:
			return
		case <-t.C:
		}
		progress := p.Progress()
		for _, pr := range progress {
			p.log.Info().
				Str("job", pr.Job.Name).
				Float64("pct", 100*pr.Fraction()).
				Int64("bytes_read", pr.BytesRead).
				Int64("games", pr.Total).
				Int64("accepted", pr.Accepted).
				Float64("games_per_sec", pr.GamesPerSec()).
				Dur("eta", pr.ETA()).
				Msg("file progress")
		}
		if p.status == nil {
			continue
		}
		n, err := renderBoard(p.status, p.cfg.PrintOffset, rows, statusLines(progress))
		if err != nil {
			p.log.Warn().Err(err).Msg("status board write failed, disabling")
			p.status = nil
			continue
		}
		rows = n
	}
}
