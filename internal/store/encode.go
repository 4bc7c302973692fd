package store

import (
	"github.com/roach88/stitch/internal/ir"
)

// Encoder turns entity deltas into statements for one dataset and run.
type Encoder struct {
	dataset string
	runID   string
	clock   *Clock
}

// NewEncoder returns an encoder stamping statements with dataset, an
// origin derived from runID, and seq numbers from clock.
func NewEncoder(dataset, runID string, clock *Clock) *Encoder {
	if clock == nil {
		clock = NewClock()
	}
	return &Encoder{dataset: dataset, runID: runID, clock: clock}
}

// Origin returns the provenance string for statements read from source.
func (e *Encoder) Origin(source string) string {
	if source == "" {
		return e.runID
	}
	return e.runID + "/" + source
}

// Encode returns the statements for d. The first statement is the id
// pseudo-property carrying only the schema claim; the rest follow the
// delta's property and value order. All statements of one delta share
// one seq.
func (e *Encoder) Encode(d ir.EntityDelta, source string) []ir.Statement {
	origin := e.Origin(source)
	seq := e.clock.Next()

	stmts := make([]ir.Statement, 0, d.Len()+1)
	stmts = append(stmts, ir.NewStatement(d.ID(), d.Schema(), ir.IDProperty, d.ID(), e.dataset, origin, seq))
	for _, prop := range d.Properties() {
		for _, v := range d.Values(prop) {
			stmts = append(stmts, ir.NewStatement(d.ID(), d.Schema(), prop, v, e.dataset, origin, seq))
		}
	}
	return stmts
}

// Clock returns the encoder's clock.
func (e *Encoder) Clock() *Clock { return e.clock }
