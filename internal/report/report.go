// Package report renders run summaries for the ingestion and reconciliation
// jobs.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StageStats counts row outcomes within one stage.
type StageStats struct {
	Attempted int
	Created   int
	Skipped   int
	Failed    int
}

// StageReport is the outcome of one named stage of a run.
type StageReport struct {
	Name  string
	Stats StageStats
}

// RunReport summarizes one complete job run.
type RunReport struct {
	ID        string
	Node      string
	StartedAt time.Time
	Elapsed   time.Duration
	Stages    []StageReport
	Unmapped  []string // raw vocabulary terms that fell back to a default
}

// New creates an empty report stamped with a fresh run ID.
func New(node string) *RunReport {
	return &RunReport{
		ID:        uuid.New().String(),
		Node:      node,
		StartedAt: time.Now(),
	}
}

// AddStage appends a completed stage to the report.
func (r *RunReport) AddStage(name string, stats StageStats) {
	r.Stages = append(r.Stages, StageReport{Name: name, Stats: stats})
}

// Finish stamps the elapsed time.
func (r *RunReport) Finish() {
	r.Elapsed = time.Since(r.StartedAt)
}

// TotalFailed sums the failure counts across all stages.
func (r *RunReport) TotalFailed() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Stats.Failed
	}
	return total
}

// String renders a human readable multi-line summary.
func (r *RunReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s", r.ID)
	if r.Node != "" {
		fmt.Fprintf(&b, " on %s", r.Node)
	}
	fmt.Fprintf(&b, " finished in %s\n", r.Elapsed.Round(time.Millisecond))
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "  %-14s attempted=%d created=%d skipped=%d failed=%d\n",
			s.Name, s.Stats.Attempted, s.Stats.Created, s.Stats.Skipped, s.Stats.Failed)
	}
	if len(r.Unmapped) > 0 {
		fmt.Fprintf(&b, "  unmapped terms (%d):\n", len(r.Unmapped))
		for _, term := range r.Unmapped {
			fmt.Fprintf(&b, "    %s\n", term)
		}
	}
	return b.String()
}
