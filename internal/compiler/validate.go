package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/stitch/internal/errors"
)

// Compile error codes (E120-E139)
const (
	ErrQueryEmpty         = "E120" // query declares no entities
	ErrSchemaMissing      = "E121" // mapping has no schema
	ErrSchemaUnknown      = "E122" // schema not in catalog
	ErrSchemaAbstract     = "E123" // abstract schemas cannot be mapped
	ErrMissingKeys        = "E124" // neither keys/key_literal nor id_column
	ErrPropertyUnknown    = "E125" // property not defined for schema
	ErrPropertyNoMode     = "E126" // no resolution mode set
	ErrPropertyMultiModes = "E127" // more than one resolution mode set
	ErrEntityRefUnknown   = "E128" // entity reference to unknown mapping
	ErrEntityRefType      = "E129" // entity mode on a non-entity property
	ErrEntityRefRange     = "E130" // referenced schema outside property range
	ErrTemplateMalformed  = "E131" // template placeholder syntax
	ErrEntityCycle        = "E132" // cyclic entity references
	ErrCatalogMissing     = "E133" // no schema catalog supplied
)

// CompileError is one problem found while compiling a query definition.
type CompileError struct {
	Field   string   `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
	Line    int      `json:"line,omitempty"`
	Path    []string `json:"path,omitempty"` // cycle path for ErrEntityCycle
}

// Error implements the error interface.
func (e CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Unwrap marks compile errors as configuration errors.
func (e CompileError) Unwrap() error { return errors.ErrConfig }

// CompileErrors collects every problem of one compilation.
type CompileErrors []CompileError

// Error joins all messages, one per line.
func (es CompileErrors) Error() string {
	lines := make([]string, len(es))
	for i, e := range es {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d compile error(s):\n%s", len(es), strings.Join(lines, "\n"))
}

// Unwrap marks the collection as a configuration error.
func (es CompileErrors) Unwrap() error { return errors.ErrConfig }

// Codes returns the error codes in order.
func (es CompileErrors) Codes() []string {
	codes := make([]string, len(es))
	for i, e := range es {
		codes[i] = e.Code
	}
	return codes
}
