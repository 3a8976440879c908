// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store defines the contract of the document store gateway used by
// the change feed subscriptions and the transaction coordinator.
package store

import (
	"context"

	"github.com/juju/shopstream/core/changestream"
)

// Connection is an open connection to the document store. It owns the
// physical connection; collections and sessions borrow it.
// Connections are safe for concurrent use.
type Connection interface {
	// Collection returns a handle on the named collection.
	Collection(name string) Collection

	// StartSession starts a server-side session. The caller must end it.
	StartSession() (Session, error)

	// Close severs the connection. Open change streams fail with
	// ErrConnectionClosed.
	Close(ctx context.Context) error
}

// Collection is a handle on one collection. Handles are safe to share
// between subscriptions and the coordinator.
//
// Writes join the transaction of the session bound to the context, if
// any (see Session.Bind).
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne inserts a single document.
	InsertOne(ctx context.Context, doc any) error

	// UpdateOne applies the mutation to the first document matching the
	// filter.
	UpdateOne(ctx context.Context, filter Filter, mutation Mutation) (UpdateResult, error)

	// DeleteMany removes every document matching the filter and returns
	// how many were removed.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// FindOne decodes the first document matching the filter into out.
	// It returns an error satisfying errors.NotFound when there is none.
	FindOne(ctx context.Context, filter Filter, out any) error

	// Watch opens a change stream on the collection, starting after the
	// most recent write.
	Watch(ctx context.Context, opts WatchOptions) (ChangeStream, error)
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// WatchOptions configures a change stream.
type WatchOptions struct {
	// Filter is evaluated by the store where it can be; at least the
	// operation kind mask is never sent to the consumer unevaluated.
	Filter changestream.Filter

	// Visibility selects the document image carried by each change.
	Visibility changestream.Visibility
}

// ChangeStream is a cursor over the changes of a collection, in cluster
// time order.
type ChangeStream interface {
	// Next blocks until the next change is available, returning false if
	// the context is done or the stream failed. A done context leaves Err
	// nil and the stream usable; Next may be called again with a fresh
	// context and no change is lost. Only a stream failure or Close is
	// terminal.
	Next(ctx context.Context) bool

	// Event returns the change read by the last successful Next.
	Event() changestream.RawEvent

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// WriteConcern is the acknowledgement level required before a write or
// commit is considered successful.
type WriteConcern int

const (
	// Acknowledged waits for the primary only.
	Acknowledged WriteConcern = iota
	// Majority waits for a majority of the replica set, so the write
	// survives the loss of a single node.
	Majority
)

// String implements fmt.Stringer.
func (w WriteConcern) String() string {
	if w == Majority {
		return "majority"
	}
	return "acknowledged"
}

// TxnOptions configures a transaction.
type TxnOptions struct {
	WriteConcern WriteConcern
}

// Session is a server-side session binding a sequence of operations for
// transactional execution. A session must not be used by concurrent
// callers.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// StartTransaction starts a transaction on the session.
	StartTransaction(opts TxnOptions) error

	// Bind returns a context carrying the session; collection operations
	// run with it join the session's transaction.
	Bind(ctx context.Context) context.Context

	// CommitTransaction makes every write of the transaction visible at
	// once.
	CommitTransaction(ctx context.Context) error

	// AbortTransaction discards every write of the transaction.
	AbortTransaction(ctx context.Context) error

	// EndSession releases the session, aborting any transaction still in
	// progress.
	EndSession(ctx context.Context)
}
