// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/shopstream/internal/store"
)

// Mode selects how a business operation's writes are applied.
type Mode int

const (
	// None applies each write on its own. A failure part way leaves the
	// earlier writes in place.
	None Mode = iota
	// Transactional applies every write in one multi-document
	// transaction: all of them become visible together or none does.
	Transactional
)

// ParseMode returns the mode with the given name.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "none":
		return None, nil
	case "transactional":
		return Transactional, nil
	}
	return 0, errors.NotValidf("transaction mode %q", name)
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Transactional:
		return "transactional"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// OpKind is the kind of a write.
type OpKind int

const (
	// Insert inserts WriteOp.Document.
	Insert OpKind = iota
	// Update applies WriteOp.Mutation to the one document matching
	// WriteOp.Filter, failing when none matches.
	Update
	// DeleteMany removes every document matching WriteOp.Filter.
	DeleteMany
)

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case DeleteMany:
		return "delete-many"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// WriteOp is one write of a business operation.
type WriteOp struct {
	Collection string
	Kind       OpKind

	// Filter selects the documents of an Update or DeleteMany.
	Filter store.Filter
	// Mutation is applied by an Update.
	Mutation store.Mutation
	// Document is inserted by an Insert.
	Document any

	// Description is used in logs and errors.
	Description string
}

// Validate checks the op is complete for its kind.
func (op WriteOp) Validate() error {
	if op.Collection == "" {
		return errors.NotValidf("%s without collection", op)
	}
	switch op.Kind {
	case Insert:
		if op.Document == nil {
			return errors.NotValidf("%s without document", op)
		}
	case Update:
		if len(op.Filter) == 0 {
			return errors.NotValidf("%s without filter", op)
		}
		if len(op.Mutation) == 0 {
			return errors.NotValidf("%s without mutation", op)
		}
	case DeleteMany:
	default:
		return errors.NotValidf("%s", op)
	}
	return nil
}

// String implements fmt.Stringer.
func (op WriteOp) String() string {
	if op.Description != "" {
		return op.Description
	}
	switch op.Kind {
	case Update:
		return fmt.Sprintf("update %s %s %s", op.Collection, op.Filter, op.Mutation)
	case DeleteMany:
		return fmt.Sprintf("delete-many %s %s", op.Collection, op.Filter)
	}
	return fmt.Sprintf("%s %s", op.Kind, op.Collection)
}
