// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package subscription turns a store change stream into a typed, ordered
// sequence of changes.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
)

// ErrClusterTimeRegression is returned when the store delivers a change
// older than one already delivered.
const ErrClusterTimeRegression = errors.ConstError("cluster time regression")

// Logger represents the logging methods called.
type Logger interface {
	Tracef(message string, args ...any)
	Debugf(message string, args ...any)
	Infof(message string, args ...any)
	Warningf(message string, args ...any)
	Errorf(message string, args ...any)
}

// DecodeError reports a change whose document could not be decoded. The
// change is skipped and the subscription carries on.
type DecodeError struct {
	Event changestream.RawEvent
	Err   error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s %s(%s) at %s: %v",
		e.Event.Kind, e.Event.Namespace, e.Event.DocumentKey, e.Event.ClusterTime, e.Err)
}

// Unwrap returns the decoding error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Config holds the configuration of a subscription.
type Config[T any] struct {
	// Collection is the collection to follow.
	Collection store.Collection

	// Filter selects the changes delivered. A nil filter accepts every
	// operation kind.
	Filter changestream.Filter

	// Visibility selects the document image decoded into each change.
	Visibility changestream.Visibility

	// DecodeErrors, if not nil, receives every change that could not be
	// decoded. The subscription blocks until the error is received.
	DecodeErrors chan<- error

	Logger Logger
}

// Validate ensures that the config values are valid.
func (config Config[T]) Validate() error {
	if config.Collection == nil {
		return errors.NotValidf("missing Collection")
	}
	if config.Logger == nil {
		return errors.NotValidf("missing Logger")
	}
	switch config.Visibility {
	case changestream.PostImage, changestream.PreImage:
	default:
		return errors.NotValidf("visibility %d", config.Visibility)
	}
	return nil
}

type stats struct {
	mu        sync.Mutex
	seen      int64
	filtered  int64
	decodeErr int64
	delivered int64
	last      changestream.ClusterTime
}

// Subscription is a worker delivering the changes of one collection in
// cluster time order, starting with the first write after New returns.
// It is neither restartable nor replayable.
type Subscription[T any] struct {
	tomb    tomb.Tomb
	config  Config[T]
	filter  changestream.Filter
	changes chan changestream.Change[T]
	stats   stats
}

// New opens the change stream and starts delivering changes.
func New[T any](config Config[T]) (*Subscription[T], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	filter := config.Filter
	if filter == nil {
		filter = changestream.KindFilter(changestream.All)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := config.Collection.Watch(ctx, store.WatchOptions{
		Filter:     filter,
		Visibility: config.Visibility,
	})
	if err != nil {
		cancel()
		return nil, errors.Annotatef(err, "subscribing to %q", config.Collection.Name())
	}

	s := &Subscription[T]{
		config:  config,
		filter:  filter,
		changes: make(chan changestream.Change[T]),
	}
	s.tomb.Go(func() error {
		select {
		case <-s.tomb.Dying():
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	s.tomb.Go(func() error {
		defer close(s.changes)
		defer cancel()
		defer func() { _ = stream.Close(context.Background()) }()

		err := s.loop(ctx, stream)
		if errors.Is(err, tomb.ErrDying) {
			return tomb.ErrDying
		}
		if err != nil {
			s.config.Logger.Infof("subscription to %q failed: %v", s.config.Collection.Name(), err)
		}
		return err
	})
	return s, nil
}

// Changes returns the channel the changes are delivered on. It is closed
// when the subscription stops.
func (s *Subscription[T]) Changes() <-chan changestream.Change[T] {
	return s.changes
}

// Kill is part of the worker.Worker interface.
func (s *Subscription[T]) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface. It returns the terminal
// error of the subscription, or nil if it was killed.
func (s *Subscription[T]) Wait() error {
	return s.tomb.Wait()
}

// Report is used by the engine report to expose runtime details of the
// subscription.
func (s *Subscription[T]) Report() map[string]any {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	return map[string]any{
		"collection":        s.config.Collection.Name(),
		"filter":            s.filter.ChangeMask().String(),
		"visibility":        s.config.Visibility.String(),
		"events-seen":       s.stats.seen,
		"events-filtered":   s.stats.filtered,
		"events-delivered":  s.stats.delivered,
		"decode-errors":     s.stats.decodeErr,
		"last-cluster-time": s.stats.last.String(),
	}
}

func (s *Subscription[T]) loop(ctx context.Context, stream store.ChangeStream) error {
	name := s.config.Collection.Name()
	s.config.Logger.Debugf("subscribed to %q for %s", name, s.filter.ChangeMask())

	for {
		if !stream.Next(ctx) {
			select {
			case <-s.tomb.Dying():
				return tomb.ErrDying
			default:
			}
			if err := stream.Err(); err != nil {
				return errors.Annotatef(err, "change stream on %q", name)
			}
			return errors.Annotatef(store.ErrStreamInvalidated, "change stream on %q", name)
		}

		event := stream.Event()
		if err := s.advance(event); err != nil {
			return errors.Annotatef(err, "change stream on %q", name)
		}
		if !s.filter.Matches(event) {
			s.count(func(st *stats) { st.filtered++ })
			continue
		}

		change, err := decode[T](event)
		if err != nil {
			s.count(func(st *stats) { st.decodeErr++ })
			s.config.Logger.Warningf("%v", err)
			if s.config.DecodeErrors != nil {
				select {
				case s.config.DecodeErrors <- err:
				case <-s.tomb.Dying():
					return tomb.ErrDying
				}
			}
			continue
		}

		s.config.Logger.Tracef("change on %q: %s", name, change)
		select {
		case s.changes <- change:
			s.count(func(st *stats) { st.delivered++ })
		case <-s.tomb.Dying():
			return tomb.ErrDying
		}
	}
}

// advance records the event's cluster time. Events committed in one
// transaction may share a time; a time older than the last one seen means
// the stream can no longer be trusted.
func (s *Subscription[T]) advance(event changestream.RawEvent) error {
	if event.ClusterTime.IsZero() {
		return errors.NotValidf("change %s(%s) without cluster time", event.Namespace, event.DocumentKey)
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	if s.stats.last.After(event.ClusterTime) {
		return errors.Annotatef(ErrClusterTimeRegression, "%s after %s", event.ClusterTime, s.stats.last)
	}
	s.stats.last = event.ClusterTime
	s.stats.seen++
	return nil
}

func (s *Subscription[T]) count(f func(*stats)) {
	s.stats.mu.Lock()
	f(&s.stats)
	s.stats.mu.Unlock()
}

func decode[T any](event changestream.RawEvent) (changestream.Change[T], error) {
	change := changestream.Change[T]{
		ClusterTime: event.ClusterTime,
		Kind:        event.Kind,
		Namespace:   event.Namespace,
		DocumentKey: event.DocumentKey,
	}
	if event.Document == nil {
		return change, nil
	}
	if err := event.Document.Decode(&change.Document); err != nil {
		return change, &DecodeError{Event: event, Err: err}
	}
	change.HasDocument = true
	return change, nil
}
