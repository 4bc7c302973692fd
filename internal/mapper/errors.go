package mapper

import (
	"fmt"

	"github.com/roach88/stitch/internal/errors"
)

// RecordError reports a record that cannot be mapped. The record is
// skipped as a whole.
type RecordError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// Unwrap exposes the error kind.
func (e *RecordError) Unwrap() error { return errors.ErrRecord }

// EntityError reports a delta dropped because a required property did not
// resolve. Sibling deltas of the record are unaffected.
type EntityError struct {
	Index    int
	Mapping  string
	Property string
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("record %d: mapping %s: required property %q is empty", e.Index, e.Mapping, e.Property)
}

// Unwrap exposes the error kind.
func (e *EntityError) Unwrap() error { return errors.ErrEntity }

// IDError reports an entity dropped because its identifier parts were all
// empty.
type IDError struct {
	Index   int
	Mapping string
	Err     error
}

func (e *IDError) Error() string {
	return fmt.Sprintf("record %d: mapping %s: %v", e.Index, e.Mapping, e.Err)
}

// Unwrap returns the generator error, which carries the id generation kind.
func (e *IDError) Unwrap() error { return e.Err }
