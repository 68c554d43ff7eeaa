package engine

import (
	"errors"
	"fmt"
)

// ReactionError reports a failure while appending reaction events.
//
// The submitted event is already durable when a ReactionError is returned;
// the receipt returned alongside it carries its sequence and the reactions
// that did make it into the ledger.
type ReactionError struct {
	// Code identifies the error category.
	Code ReactionErrorCode

	// Message is a human-readable description.
	Message string

	// Cause is the event id of the submitted event being reacted to.
	Cause string

	// Kind is the kind of the proposal that failed, if any.
	Kind string

	// Details carries numeric context such as the limit.
	Details map[string]int

	// Err is the underlying cause, if any.
	Err error
}

// ReactionErrorCode categorizes reaction errors.
type ReactionErrorCode string

const (
	// ErrCodeReactionLimit indicates the reaction quota was exhausted.
	ErrCodeReactionLimit ReactionErrorCode = "REACTION_LIMIT"

	// ErrCodeReactionInvalid indicates a component proposed an event the
	// registry rejects.
	ErrCodeReactionInvalid ReactionErrorCode = "REACTION_INVALID"

	// ErrCodeReactionAppend indicates a reaction event could not be appended.
	ErrCodeReactionAppend ReactionErrorCode = "REACTION_APPEND"
)

// Error implements the error interface.
func (e *ReactionError) Error() string {
	msg := fmt.Sprintf("%s: %s (cause=%s", e.Code, e.Message, e.Cause)
	if e.Kind != "" {
		msg += ", kind=" + e.Kind
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ReactionError) Unwrap() error {
	return e.Err
}

// IsReactionLimit reports whether err is a reaction quota error.
// Uses errors.As to handle wrapped errors.
func IsReactionLimit(err error) bool {
	var re *ReactionError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReactionLimit
	}
	return false
}

// IsReactionError reports whether err is any ReactionError.
func IsReactionError(err error) bool {
	var re *ReactionError
	return errors.As(err, &re)
}
