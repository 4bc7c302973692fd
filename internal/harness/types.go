package harness

import (
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/pipeline"
)

// RunStats summarises one dataset run of a scenario.
type RunStats struct {
	RunID      string `json:"run_id"`
	Dataset    string `json:"dataset"`
	Records    int    `json:"records"`
	Failed     int    `json:"failed"`
	Entities   int    `json:"entities"`
	Dropped    int    `json:"dropped"`
	Statements int    `json:"statements"`
}

func newRunStats(run *pipeline.WorkflowRun) RunStats {
	return RunStats{
		RunID:      run.RunID,
		Dataset:    run.Dataset,
		Records:    run.Records,
		Failed:     run.Failed,
		Entities:   run.Entities,
		Dropped:    run.Dropped,
		Statements: run.Statements,
	}
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Runs holds the statistics of each run in order.
	Runs []RunStats `json:"runs"`

	// Entities contains every merged entity in id order.
	Entities []ir.MergedEntity `json:"entities"`

	// Conflicts contains the conflicts reported while merging.
	Conflicts []ir.Conflict `json:"conflicts,omitempty"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Runs:     []RunStats{},
		Entities: []ir.MergedEntity{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Entity returns the merged entity with id.
func (r *Result) Entity(id string) (ir.MergedEntity, bool) {
	for _, e := range r.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return ir.MergedEntity{}, false
}

// Statements returns the new statements written by all runs.
func (r *Result) Statements() int {
	n := 0
	for _, run := range r.Runs {
		n += run.Statements
	}
	return n
}

// Dropped returns the entities dropped by all runs.
func (r *Result) Dropped() int {
	n := 0
	for _, run := range r.Runs {
		n += run.Dropped
	}
	return n
}
