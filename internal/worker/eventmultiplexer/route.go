// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventmultiplexer

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/changestream/subscription"
)

// Handler is called with every change delivered to a route, in arrival
// order. The context is cancelled when the multiplexer is stopping. An
// error fails the route.
type Handler[T any] func(ctx context.Context, change changestream.Change[T]) error

// Route binds a subscription to its handler.
type Route interface {
	// Name identifies the route in reports, metrics and logs.
	Name() string

	start(deps routeDeps) (worker.Worker, error)
}

type routeDeps struct {
	logger  Logger
	metrics *Collector
	done    func(name string, err error)
}

type route[T any] struct {
	name    string
	config  subscription.Config[T]
	handler Handler[T]
}

// NewRoute returns a route delivering the changes selected by config to
// handler.
func NewRoute[T any](name string, config subscription.Config[T], handler Handler[T]) Route {
	return &route[T]{
		name:    name,
		config:  config,
		handler: handler,
	}
}

// Name is part of the Route interface.
func (r *route[T]) Name() string {
	return r.name
}

func (r *route[T]) validate() error {
	if r.name == "" {
		return errors.NotValidf("route without name")
	}
	if r.handler == nil {
		return errors.NotValidf("route %q without handler", r.name)
	}
	return nil
}

func (r *route[T]) start(deps routeDeps) (worker.Worker, error) {
	config := r.config
	if config.Logger == nil {
		config.Logger = deps.logger
	}
	decodeErrors := make(chan error)
	forward := config.DecodeErrors
	config.DecodeErrors = decodeErrors

	sub, err := subscription.New(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &routeWorker[T]{
		route:        r,
		deps:         deps,
		sub:          sub,
		decodeErrors: decodeErrors,
		forward:      forward,
	}
	w.tomb.Go(w.run)
	return w, nil
}

// routeWorker runs one route. It never reports an error from Wait; the
// failure of a route is handed to the multiplexer instead, so that the
// multiplexer and the other routes carry on.
type routeWorker[T any] struct {
	tomb  tomb.Tomb
	route *route[T]
	deps  routeDeps
	sub   *subscription.Subscription[T]

	decodeErrors <-chan error
	forward      chan<- error
}

// Kill is part of the worker.Worker interface.
func (w *routeWorker[T]) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *routeWorker[T]) Wait() error {
	return w.tomb.Wait()
}

// Report exposes the subscription details of the route.
func (w *routeWorker[T]) Report() map[string]any {
	return w.sub.Report()
}

func (w *routeWorker[T]) run() error {
	err := w.loop()
	w.sub.Kill()
	if subErr := w.sub.Wait(); err == nil {
		err = subErr
	}
	if errors.Is(err, tomb.ErrDying) {
		w.deps.done(w.route.name, nil)
		return tomb.ErrDying
	}
	if err == nil {
		err = errors.Errorf("route %q stopped", w.route.name)
	}
	w.deps.done(w.route.name, err)
	return nil
}

func (w *routeWorker[T]) loop() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.tomb.Dying():
			cancel()
		case <-ctx.Done():
		}
	}()

	name := w.route.name
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case err := <-w.decodeErrors:
			w.deps.metrics.decodeError(name)
			if w.forward != nil {
				select {
				case w.forward <- err:
				case <-w.tomb.Dying():
					return tomb.ErrDying
				}
			}
		case change, ok := <-w.sub.Changes():
			if !ok {
				return errors.Annotatef(w.sub.Wait(), "route %q", name)
			}
			if err := w.route.handler(ctx, change); err != nil {
				select {
				case <-w.tomb.Dying():
					return tomb.ErrDying
				default:
				}
				w.deps.metrics.handlerError(name)
				return errors.Annotatef(err, "route %q handling %s", name, change)
			}
			w.deps.metrics.handled(name)
		}
	}
}
