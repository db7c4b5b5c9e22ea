package pool

import (
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// Summary aggregates a DispatchAll result map. Elapsed statistics cover the
// successful results only.
type Summary struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	MinElapsed time.Duration `json:"min_elapsed_ns"`
	AvgElapsed time.Duration `json:"avg_elapsed_ns"`
	MaxElapsed time.Duration `json:"max_elapsed_ns"`
}

// Summarize computes a Summary over results.
func Summarize(results map[string]model.ExecutionResult) Summary {
	s := Summary{Total: len(results)}

	var sum time.Duration
	for _, r := range results {
		if !r.Success {
			s.Failed++
			continue
		}
		s.Succeeded++
		sum += r.Elapsed
		if s.Succeeded == 1 || r.Elapsed < s.MinElapsed {
			s.MinElapsed = r.Elapsed
		}
		if r.Elapsed > s.MaxElapsed {
			s.MaxElapsed = r.Elapsed
		}
	}
	if s.Succeeded > 0 {
		s.AvgElapsed = sum / time.Duration(s.Succeeded)
	}
	return s
}
