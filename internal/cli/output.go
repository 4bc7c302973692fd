package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/stitch/internal/compiler"
	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run failed after it started (store, export)
	ExitCommandError = 2 // Bad configuration, settings or arguments
)

// Error codes for CLI responses that do not come from the config loader
// or the compiler.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeSettings = "E010"
	ErrCodeHandler  = "E011"
	ErrCodeRun      = "E020"
	ErrCodeStore    = "E021"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code. Configuration
// errors always exit with ExitCommandError.
func WrapExitError(code int, message string, err error) *ExitError {
	if errors.Is(err, errors.ErrConfig) {
		code = ExitCommandError
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode classifies err for the JSON error response.
func ErrorCode(err error) string {
	var loadErr *config.LoadError
	var compileErrs compiler.CompileErrors
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code
	case errors.As(err, &compileErrs) && len(compileErrs) > 0:
		return compileErrs[0].Code
	case errors.Is(err, errors.ErrStore):
		return ErrCodeStore
	case errors.Is(err, errors.ErrConfig):
		return ErrCodeHandler
	default:
		return ErrCodeRun
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	Data   any       `json:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty"`  // error details
	RunID  string    `json:"run_id,omitempty"` // run correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format. Text
// output uses the String method of data when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.write(&CLIError{Code: code, Message: message, Details: details})
}

// Fail reports err and returns it as an ExitError with exitCode.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	cliErr := &CLIError{Code: ErrorCode(err), Message: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		cliErr.Hint = hints[0]
	}
	var compileErrs compiler.CompileErrors
	if errors.As(err, &compileErrs) {
		cliErr.Details = compileErrs
	}
	if writeErr := f.write(cliErr); writeErr != nil {
		return writeErr
	}
	return WrapExitError(exitCode, message, err)
}

func (f *OutputFormatter) write(e *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: e})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Hint != "" {
		fmt.Fprintf(f.Writer, "Hint: %s\n", e.Hint)
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
