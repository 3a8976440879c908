// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package eventmultiplexer runs several change feed subscriptions side by
// side, each delivering to its own handler.
package eventmultiplexer

import (
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
)

// DefaultHeartbeatInterval is the heartbeat period used when none is
// configured.
const DefaultHeartbeatInterval = time.Second

// Logger represents the logging methods called.
type Logger interface {
	Tracef(message string, args ...any)
	Debugf(message string, args ...any)
	Infof(message string, args ...any)
	Warningf(message string, args ...any)
	Errorf(message string, args ...any)
}

// Config holds the configuration of the multiplexer.
type Config struct {
	// Routes are the subscriptions to run. Names must be unique.
	Routes []Route

	// Heartbeat, if set, is called every HeartbeatInterval while the
	// multiplexer runs.
	Heartbeat         func()
	HeartbeatInterval time.Duration

	// MaxRoutes bounds the number of routes. Zero means no bound.
	MaxRoutes int

	// Metrics, if set, collects route and heartbeat counters.
	Metrics *Collector

	Clock  clock.Clock
	Logger Logger
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if len(config.Routes) == 0 {
		return errors.NotValidf("missing Routes")
	}
	if config.MaxRoutes > 0 && len(config.Routes) > config.MaxRoutes {
		return errors.NotValidf("%d routes exceeding maximum of %d", len(config.Routes), config.MaxRoutes)
	}
	names := set.NewStrings()
	for _, r := range config.Routes {
		if v, ok := r.(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				return errors.Trace(err)
			}
		}
		if names.Contains(r.Name()) {
			return errors.NotValidf("duplicate route %q", r.Name())
		}
		names.Add(r.Name())
	}
	if config.HeartbeatInterval < 0 {
		return errors.NotValidf("negative HeartbeatInterval")
	}
	if config.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("missing Logger")
	}
	return nil
}

type routeState struct {
	worker worker.Worker
	err    error
	done   bool
}

// EventMultiplexer is a worker running a set of routes. The failure of a
// route is recorded and leaves the other routes and the multiplexer
// running. Killing the multiplexer cancels every route; Wait returns once
// the in-flight handlers have returned.
type EventMultiplexer struct {
	catacomb catacomb.Catacomb
	config   Config

	mu     sync.Mutex
	routes map[string]*routeState
}

// New subscribes every route and starts the multiplexer. Changes written
// after New returns are delivered.
func New(config Config) (*EventMultiplexer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}

	m := &EventMultiplexer{
		config: config,
		routes: make(map[string]*routeState),
	}

	var workers []worker.Worker
	for _, r := range config.Routes {
		state := &routeState{}
		m.routes[r.Name()] = state
		w, err := r.start(routeDeps{
			logger:  config.Logger,
			metrics: config.Metrics,
			done:    m.routeDone,
		})
		if err != nil {
			config.Logger.Errorf("route %q failed to start: %v", r.Name(), err)
			config.Metrics.routeFailure(r.Name())
			state.err = err
			state.done = true
			continue
		}
		state.worker = w
		config.Metrics.routeStarted()
		workers = append(workers, w)
	}
	if config.Heartbeat != nil {
		workers = append(workers, newHeartbeat(config.Clock, config.HeartbeatInterval, func() {
			config.Metrics.heartbeat()
			config.Heartbeat()
		}))
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &m.catacomb,
		Work: m.loop,
		Init: workers,
	}); err != nil {
		for _, w := range workers {
			w.Kill()
		}
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Kill is part of the worker.Worker interface.
func (m *EventMultiplexer) Kill() {
	m.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (m *EventMultiplexer) Wait() error {
	return m.catacomb.Wait()
}

// Err returns the error that stopped the named route, or nil if the
// route is still running or was stopped by Kill.
func (m *EventMultiplexer) Err(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.routes[name]
	if !ok {
		return errors.NotFoundf("route %q", name)
	}
	return state.err
}

// Running returns the names of the routes still delivering changes,
// sorted.
func (m *EventMultiplexer) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, state := range m.routes {
		if !state.done {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Report is used by the engine report to expose runtime details of the
// multiplexer.
func (m *EventMultiplexer) Report() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	routes := make(map[string]any, len(m.routes))
	for name, state := range m.routes {
		report := map[string]any{
			"running": !state.done,
		}
		if state.err != nil {
			report["error"] = state.err.Error()
		}
		if r, ok := state.worker.(interface{ Report() map[string]any }); ok {
			report["subscription"] = r.Report()
		}
		routes[name] = report
	}
	return map[string]any{
		"heartbeat-interval": m.config.HeartbeatInterval.String(),
		"routes":             routes,
	}
}

func (m *EventMultiplexer) routeDone(name string, err error) {
	m.config.Metrics.routeStopped()
	if err != nil {
		m.config.Logger.Errorf("%v", err)
		m.config.Metrics.routeFailure(name)
	} else {
		m.config.Logger.Debugf("route %q stopped", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.routes[name]
	state.done = true
	state.err = err
}

func (m *EventMultiplexer) loop() error {
	<-m.catacomb.Dying()
	return m.catacomb.ErrDying()
}
