//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// decision engine packages.
//
// # Error Handling
//
// The [DecisionError] type carries a reason code alongside the message so that
// failures can be recorded in audit events and mapped onto HTTP statuses
// without string matching.
package common

import (
	"errors"
	"fmt"
)

// ReasonCode classifies a [DecisionError].
type ReasonCode string

// Reason codes used across the engine.
const (
	// InvalidParam marks malformed or missing caller input.
	InvalidParam ReasonCode = "INVALPARAM"
	// NotFound marks a lookup of an unknown entity, such as a rule id.
	NotFound ReasonCode = "NOTFOUND"
	// Evaluation marks a failure while producing a decision or analysis.
	Evaluation ReasonCode = "EVALUATION"
	// Unavailable marks a collaborator that could not be reached.
	Unavailable ReasonCode = "UNAVAILABLE"
	// Timeout marks a collaborator that did not answer in time.
	Timeout ReasonCode = "TIMEOUT"
	// Internal marks anything unexpected.
	Internal ReasonCode = "INTERNAL"
)

// DecisionError is a structured error with a machine-readable reason code.
type DecisionError struct {
	ReasonCode ReasonCode
	Reason     string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("%s(code-%s)", e.Reason, e.ReasonCode)
}

// NewError creates a [DecisionError].
func NewError(code ReasonCode, msg string) *DecisionError {
	return &DecisionError{ReasonCode: code, Reason: msg}
}

// NewErrorf creates a [DecisionError] with a formatted message.
func NewErrorf(code ReasonCode, format string, args ...interface{}) *DecisionError {
	return &DecisionError{ReasonCode: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from anywhere in err's chain, or [Internal]
// when err carries none.
func CodeOf(err error) ReasonCode {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.ReasonCode
	}
	return Internal
}
