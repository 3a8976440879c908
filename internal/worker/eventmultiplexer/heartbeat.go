// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventmultiplexer

import (
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

// heartbeat calls beat once per interval until killed. It shares nothing
// with the routes.
type heartbeat struct {
	tomb     tomb.Tomb
	clock    clock.Clock
	interval time.Duration
	beat     func()
}

func newHeartbeat(clock clock.Clock, interval time.Duration, beat func()) *heartbeat {
	h := &heartbeat{
		clock:    clock,
		interval: interval,
		beat:     beat,
	}
	h.tomb.Go(h.loop)
	return h
}

// Kill is part of the worker.Worker interface.
func (h *heartbeat) Kill() {
	h.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (h *heartbeat) Wait() error {
	return h.tomb.Wait()
}

func (h *heartbeat) loop() error {
	timer := h.clock.NewTimer(h.interval)
	defer timer.Stop()
	for {
		select {
		case <-h.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			h.beat()
			timer.Reset(h.interval)
		}
	}
}
