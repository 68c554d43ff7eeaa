// Package faults defines the error taxonomy shared by every Atlas component.
//
// Conflicts and budget exhaustion are facts recorded in the ledger, not
// errors, so they have no code here.
package faults

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Code categorizes an Error.
type Code string

const (
	// CodeValidation indicates a candidate failed envelope or payload checks.
	// Nothing was appended.
	CodeValidation Code = "VALIDATION"

	// CodeDurability indicates a write could not be made durable.
	// The append failed atomically and consumed no sequence number.
	CodeDurability Code = "DURABILITY"

	// CodeIntegrity indicates a checksum or sequence mismatch in stored data.
	// Callers fall back to a rebuild and report degradation.
	CodeIntegrity Code = "INTEGRITY"

	// CodeStorage indicates storage is unusable and no rebuild is possible.
	CodeStorage Code = "STORAGE"
)

// Violation is one failed constraint on a candidate.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Error is the structured error returned across component boundaries.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed, e.g. "ledger.append".
	Op string

	// Message is a human-readable description.
	Message string

	// Violations lists every failed constraint (validation only).
	Violations []Violation

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation creates a validation error. Violations are sorted by path
// so the error text is stable.
func NewValidation(op string, violations []Violation) *Error {
	sorted := slices.Clone(violations)
	slices.SortStableFunc(sorted, func(a, b Violation) int {
		return strings.Compare(a.Path, b.Path)
	})
	return &Error{
		Code:       CodeValidation,
		Op:         op,
		Message:    fmt.Sprintf("%d violation(s)", len(sorted)),
		Violations: sorted,
	}
}

// NewDurability creates a durability error wrapping the failed write.
func NewDurability(op string, err error) *Error {
	return &Error{
		Code:    CodeDurability,
		Op:      op,
		Message: "write not durable, append rolled back",
		Err:     err,
	}
}

// NewIntegrity creates an integrity error.
func NewIntegrity(op, message string, err error) *Error {
	return &Error{
		Code:    CodeIntegrity,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewStorage creates a fatal storage error.
func NewStorage(op, message string, err error) *Error {
	return &Error{
		Code:    CodeStorage,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// ViolationsOf returns the violations carried by err, if any.
func ViolationsOf(err error) []Violation {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Violations
	}
	return nil
}

// IsValidation returns true if err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsDurability returns true if err is a durability error.
func IsDurability(err error) bool {
	return hasCode(err, CodeDurability)
}

// IsIntegrity returns true if err or any error it wraps is an integrity
// error. A storage error caused by corruption matches both.
func IsIntegrity(err error) bool {
	return hasCode(err, CodeIntegrity)
}

// IsStorage returns true if err is a fatal storage error.
func IsStorage(err error) bool {
	return hasCode(err, CodeStorage)
}

func hasCode(err error, code Code) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Err
	}
	return false
}
