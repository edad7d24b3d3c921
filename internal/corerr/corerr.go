// Copyright 2025 FleetTools Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package corerr defines the Coordination Core's error kinds (spec §7) as a
// typed enum plus a CoreError carrying enough context for the Coordinator
// API to render the stable {error:{code,message,details}} envelope.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError for propagation-policy purposes (spec §7).
type Kind string

const (
	Validation         Kind = "VALIDATION"
	NotFound           Kind = "NOT_FOUND"
	Conflict           Kind = "CONFLICT"
	OwnershipError     Kind = "OWNERSHIP_ERROR"
	PreconditionFailed Kind = "PRECONDITION_FAILED"
	Stale              Kind = "STALE"
	Transient          Kind = "TRANSIENT"
	Corruption         Kind = "CORRUPTION"
	Internal           Kind = "INTERNAL"
)

// CoreError is the error type returned by every Core operation that can
// fail in a caller-meaningful way. Kind drives HTTP-status mapping and
// retry policy; Code is a short machine-readable sub-code (e.g.
// "STALE_LOCK", "PATH_INVALID") named in spec §4.4; Details carries
// structured extra data (e.g. the conflicting lock).
type CoreError struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

func newErr(kind Kind, code, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Err: err}
}

func NewValidation(code, message string) *CoreError {
	return newErr(Validation, code, message, nil)
}

func NewNotFound(code, message string) *CoreError {
	return newErr(NotFound, code, message, nil)
}

// NewConflict builds a CONFLICT error. details is attached verbatim (e.g.
// the existing_lock in a lock-acquire conflict).
func NewConflict(code, message string, details any) *CoreError {
	e := newErr(Conflict, code, message, nil)
	e.Details = details
	return e
}

func NewOwnershipError(code, message string) *CoreError {
	return newErr(OwnershipError, code, message, nil)
}

func NewPrecondition(code, message string) *CoreError {
	return newErr(PreconditionFailed, code, message, nil)
}

func NewStale(code, message string) *CoreError {
	return newErr(Stale, code, message, nil)
}

func NewTransient(code, message string, err error) *CoreError {
	return newErr(Transient, code, message, err)
}

func NewCorruption(code, message string, err error) *CoreError {
	return newErr(Corruption, code, message, err)
}

func NewInternal(code, message string, err error) *CoreError {
	return newErr(Internal, code, message, err)
}

// Is reports whether err is a *CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// As is a thin wrapper over errors.As for *CoreError, used by the API layer
// to recover Code/Details for the error envelope.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	ok := errors.As(err, &ce)
	return ce, ok
}
