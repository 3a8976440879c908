// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"context"
	"sync"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
)

// stream is a change stream over one collection. Events are queued
// without bound until the consumer reads them.
type stream struct {
	store      *Store
	collection string
	filter     changestream.Filter
	visibility changestream.Visibility

	notify chan struct{}

	mu      sync.Mutex
	backlog []changestream.RawEvent
	current changestream.RawEvent
	err     error
	closed  bool
}

func newStream(s *Store, name string, opts store.WatchOptions) *stream {
	return &stream{
		store:      s,
		collection: name,
		filter:     opts.Filter,
		visibility: opts.Visibility,
		notify:     make(chan struct{}, 1),
	}
}

// offer queues the event if the stream's filter accepts it. Called with
// the store lock held.
func (st *stream) offer(event changestream.RawEvent) {
	if st.filter != nil && !st.filter.Matches(event) {
		return
	}
	st.mu.Lock()
	if st.closed || st.err != nil {
		st.mu.Unlock()
		return
	}
	st.backlog = append(st.backlog, event)
	st.mu.Unlock()
	st.wake()
}

func (st *stream) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
	st.wake()
}

func (st *stream) wake() {
	select {
	case st.notify <- struct{}{}:
	default:
	}
}

// Next is part of the store.ChangeStream interface.
func (st *stream) Next(ctx context.Context) bool {
	for {
		st.mu.Lock()
		if len(st.backlog) > 0 && !st.closed {
			st.current = st.backlog[0]
			st.backlog = st.backlog[1:]
			st.mu.Unlock()
			return true
		}
		if st.closed || st.err != nil {
			st.mu.Unlock()
			return false
		}
		st.mu.Unlock()

		select {
		case <-st.notify:
		case <-ctx.Done():
			return false
		}
	}
}

// Event is part of the store.ChangeStream interface.
func (st *stream) Event() changestream.RawEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Err is part of the store.ChangeStream interface.
func (st *stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close is part of the store.ChangeStream interface.
func (st *stream) Close(ctx context.Context) error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.backlog = nil
	st.mu.Unlock()
	st.wake()

	st.store.mu.Lock()
	defer st.store.mu.Unlock()
	if st.store.streams != nil {
		delete(st.store.streams, st)
	}
	return nil
}
