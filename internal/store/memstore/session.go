// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/shopstream/internal/store"
)

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	return sess
}

type session struct {
	store        *Store
	id           string
	txn          *view
	writeConcern store.WriteConcern
	ended        bool
}

// ID is part of the store.Session interface.
func (s *session) ID() string {
	return s.id
}

// StartTransaction is part of the store.Session interface.
func (s *session) StartTransaction(opts store.TxnOptions) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	switch {
	case s.store.closed:
		return store.ErrConnectionClosed
	case s.ended:
		return store.ErrSessionEnded
	case s.txn != nil:
		return errors.AlreadyExistsf("transaction on session %q", s.id)
	}
	s.txn = newView(s.id, false)
	s.writeConcern = opts.WriteConcern
	return nil
}

// Bind is part of the store.Session interface.
func (s *session) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// CommitTransaction is part of the store.Session interface.
func (s *session) CommitTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	switch {
	case s.store.closed:
		return store.ErrConnectionClosed
	case s.ended:
		return store.ErrSessionEnded
	case s.txn == nil:
		return store.ErrNoTransaction
	}
	if err := s.store.nextCommitErr(); err != nil {
		return err
	}
	txn := s.txn
	if txn.err != nil {
		s.finish()
		return errors.Trace(txn.err)
	}
	err := s.store.commit(txn)
	s.finish()
	return errors.Trace(err)
}

// AbortTransaction is part of the store.Session interface.
func (s *session) AbortTransaction(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	switch {
	case s.ended:
		return store.ErrSessionEnded
	case s.txn == nil:
		return store.ErrNoTransaction
	}
	s.finish()
	return nil
}

// EndSession is part of the store.Session interface. Any transaction
// still open is aborted.
func (s *session) EndSession(ctx context.Context) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.ended {
		return
	}
	if s.txn != nil {
		s.finish()
	}
	s.ended = true
	s.store.sessions--
}

func (s *session) finish() {
	s.store.release(s.id)
	s.txn = nil
}
