// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/shopstream/internal/store"
)

// State is the state of the session running a business operation.
type State int

const (
	// NoSession means the writes ran without a session.
	NoSession State = iota
	// Idle is a session with no transaction.
	Idle
	// InTransaction is a session whose transaction is open.
	InTransaction
	// Committed is a session whose transaction was acknowledged.
	Committed
	// Aborted is a session whose transaction was rolled back.
	Aborted
	// Ended is a session that has been released.
	Ended
)

var stateNames = map[State]string{
	NoSession:     "no-session",
	Idle:          "idle",
	InTransaction: "in-transaction",
	Committed:     "committed",
	Aborted:       "aborted",
	Ended:         "ended",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// scope decides whether writes join a transaction.
type scope interface {
	bind(ctx context.Context) context.Context
}

// noSession issues every write on its own.
type noSession struct{}

func (noSession) bind(ctx context.Context) context.Context {
	return ctx
}

// activeSession issues every write inside the session's transaction.
type activeSession struct {
	session store.Session
}

func (s activeSession) bind(ctx context.Context) context.Context {
	return s.session.Bind(ctx)
}

// trackedSession enforces the session lifecycle
// Idle -> InTransaction -> Committed|Aborted -> Ended.
type trackedSession struct {
	session store.Session
	state   State
	// outcome is the last state before the session ended.
	outcome State
}

func newTrackedSession(session store.Session) *trackedSession {
	return &trackedSession{session: session, state: Idle, outcome: Idle}
}

func (s *trackedSession) scope() scope {
	return activeSession{session: s.session}
}

func (s *trackedSession) start(opts store.TxnOptions) error {
	if s.state != Idle {
		return errors.NotValidf("starting transaction on %s session", s.state)
	}
	if err := s.session.StartTransaction(opts); err != nil {
		return errors.Annotate(err, "starting transaction")
	}
	s.transition(InTransaction)
	return nil
}

func (s *trackedSession) commit(ctx context.Context) error {
	if s.state != InTransaction {
		return errors.NotValidf("committing %s session", s.state)
	}
	if err := s.session.CommitTransaction(ctx); err != nil {
		return errors.Trace(err)
	}
	s.transition(Committed)
	return nil
}

// abort rolls back an open transaction. It does nothing otherwise.
func (s *trackedSession) abort(ctx context.Context) error {
	if s.state != InTransaction {
		return nil
	}
	s.transition(Aborted)
	return errors.Trace(s.session.AbortTransaction(ctx))
}

func (s *trackedSession) end(ctx context.Context) {
	if s.state == Ended {
		return
	}
	s.session.EndSession(ctx)
	s.state = Ended
}

func (s *trackedSession) transition(to State) {
	s.state = to
	s.outcome = to
}
