// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// QueryError represents a submission or execution failure.
type QueryError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// ErrorKind categorizes query errors for handling.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindValidation
	ErrKindBusy
	ErrKindBackend
	ErrKindTimeout
)

// Sentinels matched with errors.Is.
var (
	ErrEmptyQuestion = &QueryError{Kind: ErrKindValidation, Message: "question is empty"}
	ErrBusy          = &QueryError{Kind: ErrKindBusy, Message: "a query is already running"}
)

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind == ErrKindValidation
	}
	return false
}

// IsBusy returns true if the error is a busy rejection.
func IsBusy(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind == ErrKindBusy
	}
	return errors.Is(err, ErrBusy)
}

// IsBackend returns true if the error is a backend fault.
func IsBackend(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind == ErrKindBackend
	}
	return false
}

// IsTimeout returns true if the error is a deadline expiry.
func IsTimeout(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind == ErrKindTimeout
	}
	return false
}
