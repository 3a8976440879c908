// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memstore provides an in-memory document store with change
// streams and multi-document transactions. It follows the semantics the
// shop relies on from a MongoDB replica set: writes committed together
// share a cluster time, transactions read their own writes, and
// concurrent transactions touching the same document conflict.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
)

// Scheme is the URI scheme that selects the in-memory store.
const Scheme = "memory"

// Option configures a Store.
type Option func(*Store)

// WithMaxSessions limits the number of sessions that may be open at once.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		s.maxSessions = n
	}
}

type docRef struct {
	collection string
	id         string
}

type record struct {
	doc     document
	version uint64
}

// Store is an in-memory store.Connection.
type Store struct {
	mu          sync.Mutex
	clock       uint32
	collections map[string]map[string]*record
	locks       map[docRef]string
	streams     map[*stream]struct{}
	sessions    int
	maxSessions int
	commitErrs  []error
	closed      bool
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]*record),
		locks:       make(map[docRef]string),
		streams:     make(map[*stream]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection is part of the store.Connection interface.
func (s *Store) Collection(name string) store.Collection {
	return &collection{store: s, name: name}
}

// StartSession is part of the store.Connection interface.
func (s *Store) StartSession() (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrConnectionClosed
	}
	if s.maxSessions > 0 && s.sessions >= s.maxSessions {
		return nil, errors.Errorf("session limit of %d reached", s.maxSessions)
	}
	s.sessions++
	return &session{store: s, id: uuid.NewString()}, nil
}

// Close is part of the store.Connection interface. Open change streams
// fail with store.ErrConnectionClosed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for st := range s.streams {
		st.fail(store.ErrConnectionClosed)
	}
	s.streams = nil
	return nil
}

// OpenSessions returns the number of sessions not yet ended.
func (s *Store) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// InjectCommitErrors makes the next len(errs) transaction commits fail
// with the given errors, in order, without applying anything. The
// transaction stays active so the commit may be retried.
func (s *Store) InjectCommitErrors(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErrs = append(s.commitErrs, errs...)
}

// ClusterTime returns the cluster time of the last committed write.
func (s *Store) ClusterTime() changestream.ClusterTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changestream.ClusterTime{T: s.clock}
}

func (s *Store) nextCommitErr() error {
	if len(s.commitErrs) == 0 {
		return nil
	}
	err := s.commitErrs[0]
	s.commitErrs = s.commitErrs[1:]
	return err
}

func (s *Store) ids(name string) []string {
	coll := s.collections[name]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	return ids
}

// commit applies the staged view. All events share one cluster time
// second and are ordered by increment.
func (s *Store) commit(v *view) error {
	for ref, staged := range v.docs {
		var version uint64
		if rec, ok := s.collections[ref.collection][ref.id]; ok {
			version = rec.version
		}
		if version != staged.base {
			return conflict(ref)
		}
	}
	if len(v.ops) == 0 {
		return nil
	}
	s.clock++
	for i, op := range v.ops {
		coll, ok := s.collections[op.ref.collection]
		if !ok {
			coll = make(map[string]*record)
			s.collections[op.ref.collection] = coll
		}
		rec, ok := coll[op.ref.id]
		switch {
		case op.post == nil:
			delete(coll, op.ref.id)
		case ok:
			rec.doc = op.post
			rec.version++
		default:
			coll[op.ref.id] = &record{doc: op.post, version: 1}
		}
		s.publish(op, changestream.ClusterTime{T: s.clock, I: uint32(i + 1)})
	}
	return nil
}

func (s *Store) publish(op stagedOp, at changestream.ClusterTime) {
	for st := range s.streams {
		if st.collection != op.ref.collection {
			continue
		}
		event := changestream.RawEvent{
			ClusterTime: at,
			Kind:        op.kind,
			Namespace:   op.ref.collection,
			DocumentKey: op.ref.id,
		}
		switch st.visibility {
		case changestream.PreImage:
			if op.preRaw != nil {
				event.Document = op.preRaw
			}
		default:
			if op.postRaw != nil {
				event.Document = op.postRaw
			}
		}
		st.offer(event)
	}
}

func (s *Store) release(sessionID string) {
	for ref, owner := range s.locks {
		if owner == sessionID {
			delete(s.locks, ref)
		}
	}
}

// within runs fn against the transaction bound to ctx, or against a
// single-write view committed straight after fn returns.
func (s *Store) within(ctx context.Context, fn func(*view) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrConnectionClosed
	}
	if sess := sessionFrom(ctx); sess != nil {
		if sess.store != s {
			return errors.NotValidf("session from another connection")
		}
		if sess.ended {
			return store.ErrSessionEnded
		}
		if sess.txn != nil {
			if sess.txn.err != nil {
				return errors.Annotate(sess.txn.err, "transaction aborted")
			}
			if err := fn(sess.txn); err != nil {
				if store.HasErrorLabel(err, store.TransientTransactionError) {
					sess.txn.err = err
				}
				return errors.Trace(err)
			}
			return nil
		}
	}
	v := newView("", true)
	if err := fn(v); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.commit(v))
}

type collection struct {
	store *Store
	name  string
}

// Name is part of the store.Collection interface.
func (c *collection) Name() string {
	return c.name
}

// InsertOne is part of the store.Collection interface.
func (c *collection) InsertOne(ctx context.Context, v any) error {
	doc, err := toDocument(v)
	if err != nil {
		return errors.Trace(err)
	}
	id, ok := documentID(doc)
	if !ok {
		id = uuid.NewString()
		doc["_id"] = id
	}
	ref := docRef{collection: c.name, id: id}
	return c.store.within(ctx, func(v *view) error {
		if _, exists := v.get(c.store, ref); exists {
			return errors.AlreadyExistsf("document %q in %q", id, c.name)
		}
		if err := v.touch(c.store, ref); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(v.put(ref, changestream.Insert, nil, doc))
	})
}

// UpdateOne is part of the store.Collection interface.
func (c *collection) UpdateOne(ctx context.Context, filter store.Filter, mutation store.Mutation) (store.UpdateResult, error) {
	compiled, err := compileFilter(filter)
	if err != nil {
		return store.UpdateResult{}, errors.Trace(err)
	}
	if len(mutation) == 0 {
		return store.UpdateResult{}, errors.NotValidf("empty mutation")
	}
	var result store.UpdateResult
	err = c.store.within(ctx, func(v *view) error {
		ref, doc, positions, found := v.first(c.store, c.name, compiled)
		if !found {
			return nil
		}
		result.Matched = 1
		updated := copyDocument(doc)
		if err := apply(updated, mutation, positions); err != nil {
			return errors.Annotatef(err, "updating %q in %q", ref.id, c.name)
		}
		if valuesEqual(updated, doc) {
			return nil
		}
		if err := v.touch(c.store, ref); err != nil {
			return errors.Trace(err)
		}
		result.Modified = 1
		return errors.Trace(v.put(ref, changestream.Update, doc, updated))
	})
	if err != nil {
		return store.UpdateResult{}, errors.Trace(err)
	}
	return result, nil
}

// DeleteMany is part of the store.Collection interface.
func (c *collection) DeleteMany(ctx context.Context, filter store.Filter) (int64, error) {
	compiled, err := compileFilter(filter)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var deleted int64
	err = c.store.within(ctx, func(v *view) error {
		for _, id := range v.ids(c.store, c.name) {
			ref := docRef{collection: c.name, id: id}
			doc, ok := v.get(c.store, ref)
			if !ok {
				continue
			}
			if _, ok := match(doc, compiled); !ok {
				continue
			}
			if err := v.touch(c.store, ref); err != nil {
				return errors.Trace(err)
			}
			if err := v.put(ref, changestream.Delete, doc, nil); err != nil {
				return errors.Trace(err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return deleted, nil
}

// FindOne is part of the store.Collection interface.
func (c *collection) FindOne(ctx context.Context, filter store.Filter, out any) error {
	compiled, err := compileFilter(filter)
	if err != nil {
		return errors.Trace(err)
	}
	var doc document
	err = c.store.within(ctx, func(v *view) error {
		_, found, _, ok := v.first(c.store, c.name, compiled)
		if !ok {
			return errors.NotFoundf("document matching %s in %q", filter, c.name)
		}
		doc = copyDocument(found)
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	raw, err := encode(doc)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(raw.Decode(out))
}

// Watch is part of the store.Collection interface.
func (c *collection) Watch(ctx context.Context, opts store.WatchOptions) (store.ChangeStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrConnectionClosed
	}
	st := newStream(s, c.name, opts)
	s.streams[st] = struct{}{}
	return st, nil
}

func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}
