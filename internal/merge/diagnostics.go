package merge

import (
	"slices"
	"sync"

	"github.com/roach88/stitch/internal/ir"
)

// Diagnostics collects merge conflicts for a run. Safe for concurrent use.
type Diagnostics struct {
	mu        sync.Mutex
	conflicts []ir.Conflict
}

// NewDiagnostics returns an empty sink.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Add records conflicts.
func (d *Diagnostics) Add(conflicts ...ir.Conflict) {
	if d == nil || len(conflicts) == 0 {
		return
	}
	d.mu.Lock()
	d.conflicts = append(d.conflicts, conflicts...)
	d.mu.Unlock()
}

// Conflicts returns a copy of everything recorded so far.
func (d *Diagnostics) Conflicts() []ir.Conflict {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.conflicts)
}

// Len returns the number of recorded conflicts.
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conflicts)
}

// Counts returns conflicts per kind.
func (d *Diagnostics) Counts() map[ir.ConflictKind]int {
	counts := make(map[ir.ConflictKind]int)
	for _, c := range d.Conflicts() {
		counts[c.Kind]++
	}
	return counts
}
