// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

const (
	// ErrConnectionClosed is returned by operations and change streams of
	// a connection that has been closed.
	ErrConnectionClosed = errors.ConstError("connection closed")

	// ErrStreamInvalidated is returned by a change stream that the store
	// can no longer continue, for example because its collection was
	// dropped.
	ErrStreamInvalidated = errors.ConstError("change stream invalidated")

	// ErrSessionEnded is returned when a session is used after EndSession.
	ErrSessionEnded = errors.ConstError("session ended")

	// ErrNoTransaction is returned when committing or aborting a session
	// with no transaction in progress.
	ErrNoTransaction = errors.ConstError("no transaction in progress")

	// ErrNoMatch is returned when a write that must change a document
	// matched none.
	ErrNoMatch = errors.ConstError("no matching document")

	// ErrWriteConflict is returned when a transaction touches a document
	// written concurrently by someone else.
	ErrWriteConflict = errors.ConstError("write conflict")
)

// Error labels attached by the store to retryable transaction errors.
const (
	// TransientTransactionError marks an error after which the whole
	// transaction may succeed if run again.
	TransientTransactionError = "TransientTransactionError"

	// UnknownTransactionCommitResult marks a commit whose outcome is not
	// known; committing again is safe.
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
)

// labeled is implemented by the driver's server errors as well as by the
// errors returned from WithErrorLabels.
type labeled interface {
	HasErrorLabel(string) bool
}

// HasErrorLabel reports whether any error in err's chain carries label.
func HasErrorLabel(err error, label string) bool {
	var l labeled
	if !errors.As(err, &l) {
		return false
	}
	return l.HasErrorLabel(label)
}

// WithErrorLabels returns err carrying the given labels.
func WithErrorLabels(err error, labels ...string) error {
	if err == nil {
		return nil
	}
	return &labeledError{error: err, labels: set.NewStrings(labels...)}
}

type labeledError struct {
	error
	labels set.Strings
}

// HasErrorLabel reports whether the error carries label.
func (e *labeledError) HasErrorLabel(label string) bool {
	return e.labels.Contains(label)
}

// Unwrap returns the labelled error.
func (e *labeledError) Unwrap() error {
	return e.error
}
