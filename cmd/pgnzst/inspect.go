package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freeeve/pgnzst/internal/bucket"
	"github.com/freeeve/pgnzst/internal/game"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.parquet>...",
	Short: "Print row counts and a rating/result summary of bucket files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			info, err := bucket.Inspect(path)
			if err != nil {
				return err
			}
			rows, err := bucket.ReadFile(path)
			if err != nil {
				return err
			}
			printInspect(cmd.OutOrStdout(), path, info, summarize(rows))
		}
		return nil
	},
}

type ratingRange struct {
	N        int64
	Min, Max int32
	sum      int64
}

func (r *ratingRange) add(v *int32) {
	if v == nil {
		return
	}
	if r.N == 0 || *v < r.Min {
		r.Min = *v
	}
	if r.N == 0 || *v > r.Max {
		r.Max = *v
	}
	r.N++
	r.sum += int64(*v)
}

func (r ratingRange) Mean() float64 {
	if r.N == 0 {
		return math.NaN()
	}
	return float64(r.sum) / float64(r.N)
}

func (r ratingRange) String() string {
	if r.N == 0 {
		return "none"
	}
	return fmt.Sprintf("%d..%d mean %.1f (%d rated)", r.Min, r.Max, r.Mean(), r.N)
}

// summary aggregates the rows of one bucket file.
type summary struct {
	Rows    int64
	Results [4]int64 // indexed by game.Result
	White   ratingRange
	Black   ratingRange
	Bases   map[int32]int64
}

func summarize(rows []bucket.Row) summary {
	s := summary{Rows: int64(len(rows)), Bases: map[int32]int64{}}
	for _, r := range rows {
		if r.Result >= 0 && int(r.Result) < len(s.Results) {
			s.Results[r.Result]++
		}
		s.White.add(r.WhiteElo)
		s.Black.add(r.BlackElo)
		s.Bases[r.TimeControlBase]++
	}
	return s
}

func printInspect(w io.Writer, path string, info bucket.FileInfo, s summary) {
	groups := make([]string, len(info.RowGroups))
	for i, n := range info.RowGroups {
		groups[i] = fmt.Sprint(n)
	}
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  job %s  run %s  bucket %s\n", info.Job, info.RunID, info.Bucket)
	fmt.Fprintf(w, "  rows %d in %d row groups [%s]\n", info.Rows, len(info.RowGroups), strings.Join(groups, " "))
	fmt.Fprintf(w, "  results")
	for i, n := range s.Results {
		fmt.Fprintf(w, "  %s %d", game.Result(i), n)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  white elo %s\n", s.White)
	fmt.Fprintf(w, "  black elo %s\n", s.Black)
}
