package mapper

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// TransformFunc maps the ix-th record to entity deltas. Mapper.Transform
// and custom transform handlers both reduce to it once bound to a run
// context. Yielded errors classify dropped entities and skipped records.
type TransformFunc func(rec ir.Record, ix int) iter.Seq2[ir.EntityDelta, error]

// Batch is everything one record produced.
type Batch struct {
	Index   int
	Source  string
	Deltas  []ir.EntityDelta // merged by id, first-yield order
	Dropped int              // entities dropped for missing ids or required values
	Err     error            // set when the record was skipped
}

// Iterate pulls records one at a time and yields one batch per record.
// Deltas sharing an id within a record are merged before the batch is
// released, so helper entities a transform yields more than once arrive
// as one. Iteration stops once ctx is done; callers check ctx.Err().
func Iterate(ctx context.Context, log *zap.SugaredLogger, transform TransformFunc, records iter.Seq2[int, ir.Record]) iter.Seq2[int, Batch] {
	return func(yield func(int, Batch) bool) {
		for ix, rec := range records {
			if ctx.Err() != nil {
				return
			}
			if !yield(ix, mapRecord(log, transform, rec, ix)) {
				return
			}
		}
	}
}

func mapRecord(log *zap.SugaredLogger, transform TransformFunc, rec ir.Record, ix int) Batch {
	batch := Batch{Index: ix, Source: rec.Source()}
	byID := make(map[string]int)

	for delta, err := range transform(rec.Without(ir.SourceField), ix) {
		if err != nil {
			if skip := handleError(log, &batch, err); skip {
				batch.Deltas = nil
				batch.Err = err
				return batch
			}
			continue
		}
		if delta.IsZero() {
			continue
		}
		if pos, ok := byID[delta.ID()]; ok {
			merged, mergeErr := batch.Deltas[pos].Merge(delta)
			if mergeErr == nil {
				batch.Deltas[pos] = merged
			}
			continue
		}
		byID[delta.ID()] = len(batch.Deltas)
		batch.Deltas = append(batch.Deltas, delta)
	}
	return batch
}

// handleError logs err and reports whether the record must be skipped.
func handleError(log *zap.SugaredLogger, batch *Batch, err error) bool {
	var entityErr *EntityError
	var idErr *IDError
	switch {
	case errors.As(err, &entityErr):
		batch.Dropped++
		log.Warnw("dropping entity: required property empty",
			"mapping", entityErr.Mapping, "record", batch.Index, "property", entityErr.Property, "source", batch.Source)
		return false
	case errors.Is(err, errors.ErrEntity):
		batch.Dropped++
		log.Warnw("dropping entity", "record", batch.Index, "source", batch.Source, "error", err)
		return false
	case errors.As(err, &idErr):
		batch.Dropped++
		log.Errorw("dropping entity: empty identifier",
			"mapping", idErr.Mapping, "record", batch.Index, "source", batch.Source, "error", idErr.Err)
		return false
	case errors.Is(err, errors.ErrIDGeneration):
		batch.Dropped++
		log.Errorw("dropping entity: empty identifier", "record", batch.Index, "source", batch.Source, "error", err)
		return false
	case errors.Is(err, errors.ErrRecord):
		log.Warnw("skipping record", "record", batch.Index, "source", batch.Source, "error", err)
		return true
	default:
		log.Errorw("skipping record: transform failed", "record", batch.Index, "source", batch.Source, "error", err)
		return true
	}
}
