// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package subscription_test

import (
	"context"
	"sync"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
)

// scriptedCollection serves a change stream replaying fixed events.
type scriptedCollection struct {
	store.Collection

	events   []changestream.RawEvent
	end      bool
	watchErr error

	mu     sync.Mutex
	stream *scriptedStream
}

func newScriptedCollection(events ...changestream.RawEvent) *scriptedCollection {
	return &scriptedCollection{events: events}
}

func (c *scriptedCollection) Name() string {
	return "scripted"
}

func (c *scriptedCollection) Watch(ctx context.Context, opts store.WatchOptions) (store.ChangeStream, error) {
	if c.watchErr != nil {
		return nil, c.watchErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = &scriptedStream{events: c.events, end: c.end}
	return c.stream, nil
}

func (c *scriptedCollection) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil && c.stream.isClosed()
}

type scriptedStream struct {
	events  []changestream.RawEvent
	end     bool
	current changestream.RawEvent
	err     error

	mu     sync.Mutex
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) bool {
	if len(s.events) > 0 {
		s.current, s.events = s.events[0], s.events[1:]
		return true
	}
	if s.end {
		return false
	}
	<-ctx.Done()
	return false
}

func (s *scriptedStream) Event() changestream.RawEvent {
	return s.current
}

func (s *scriptedStream) Err() error {
	return s.err
}

func (s *scriptedStream) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
