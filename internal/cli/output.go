package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/atlas/internal/engine"
	"github.com/roach88/atlas/internal/faults"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // rejected candidate, failed verification, exhausted budget
	ExitCommandError = 2 // bad flags, unreadable config or ledger, I/O failure
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// Reported means the formatter already printed it; main stays quiet.
	Reported bool
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no
// ExitError are plain failures.
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

// IsReported reports whether err was already written by an OutputFormatter.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// OutputFormatter renders command results as text for people or as a
// CLIResponse envelope for scripts.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

// CLIResponse is the envelope every --format json command prints.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"` // VALIDATION, DURABILITY, REACTION_LIMIT, ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Render prints data as an ok envelope in JSON mode and hands the writer to
// text otherwise.
func (f *OutputFormatter) Render(data any, text func(w io.Writer) error) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	return text(f.Writer)
}

// Fail prints err and returns it as an already reported ExitError. Any
// validation violations are listed: one per line in text, as details in
// JSON.
func (f *OutputFormatter) Fail(exit int, message string, err error) error {
	code := ErrorCode(err)
	violations := faults.ViolationsOf(err)

	if f.isJSON() {
		cliErr := &CLIError{Code: code, Message: fmt.Sprintf("%s: %v", message, err)}
		if len(violations) > 0 {
			cliErr.Details = violations
		}
		if werr := f.encode(CLIResponse{Status: "error", Error: cliErr}); werr != nil {
			return werr
		}
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s: %v\n", code, message, err)
		for _, v := range violations {
			fmt.Fprintf(f.Writer, "  %s\n", v)
		}
	}
	return &ExitError{Code: exit, Message: message, Err: err, Reported: true}
}

// ErrorCode names err for output: a reaction error code, a fault code,
// or "ERROR".
func ErrorCode(err error) string {
	var re *engine.ReactionError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if code := faults.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

// VerboseLog writes a diagnostic line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}
