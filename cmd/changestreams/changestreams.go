// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/juju/ansiterm"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/juju/shopstream/cmd"
	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/changestream/subscription"
	"github.com/juju/shopstream/internal/worker/eventmultiplexer"
)

var logger = loggo.GetLogger("shopstream.cmd.changestreams")

const changeStreamsDoc = `
Watch the cart and product collections and print every change as
"cluster time => document". Cart inserts and updates are printed, and
product updates. Changes written by one transaction share a cluster
time. A blank line is printed every heartbeat interval.

Both collections are cleared first unless --keep is given.

The store URI is either a MongoDB replica set URI or memory://.
`

type changeStreamsCommand struct {
	cmd.StoreCommandBase

	keep  bool
	clock clock.Clock

	// started is called once every route is subscribed.
	started func()
}

func newChangeStreamsCommand() *changeStreamsCommand {
	return &changeStreamsCommand{clock: clock.WallClock}
}

// Info implements cmd.Command.
func (c *changeStreamsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "changestreams",
		Args:    "<store uri>",
		Purpose: "print the changes of the cart and product collections",
		Doc:     changeStreamsDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *changeStreamsCommand) SetFlags(f *gnuflag.FlagSet) {
	c.StoreCommandBase.SetFlags(f)
	f.BoolVar(&c.keep, "keep", false, "do not clear the collections before watching")
}

// Run implements cmd.Command.
func (c *changeStreamsCommand) Run(ctx *cmd.Context) error {
	env, err := c.Open(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := env.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warningf("closing store: %v", err)
		}
	}()

	if !c.keep {
		for _, name := range []string{shop.CartCollection, shop.ProductCollection} {
			if _, err := env.Conn.Collection(name).DeleteMany(ctx, nil); err != nil {
				return errors.Annotatef(err, "clearing %q", name)
			}
		}
	}

	out := newPrinter(ctx.Stdout)
	metrics := eventmultiplexer.NewMetricsCollector()
	if err := env.Registry.Register(metrics); err != nil {
		return errors.Trace(err)
	}

	mux, err := eventmultiplexer.New(eventmultiplexer.Config{
		Routes: []eventmultiplexer.Route{
			eventmultiplexer.NewRoute(shop.CartCollection, subscription.Config[shop.Cart]{
				Collection: env.Conn.Collection(shop.CartCollection),
				Filter:     changestream.KindFilter(changestream.Insert | changestream.Update),
				Logger:     logger.Child("cart"),
			}, printChanges[shop.Cart](out, cartColor)),
			eventmultiplexer.NewRoute(shop.ProductCollection, subscription.Config[shop.Product]{
				Collection: env.Conn.Collection(shop.ProductCollection),
				Filter:     changestream.KindFilter(changestream.Update),
				Logger:     logger.Child("product"),
			}, printChanges[shop.Product](out, productColor)),
		},
		Heartbeat:         out.blank,
		HeartbeatInterval: env.Config.HeartbeatInterval,
		Metrics:           metrics,
		Clock:             c.clock,
		Logger:            logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range []string{shop.CartCollection, shop.ProductCollection} {
		if err := mux.Err(name); err != nil {
			mux.Kill()
			_ = mux.Wait()
			return errors.Annotatef(err, "watching %q", name)
		}
	}
	if c.started != nil {
		c.started()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			mux.Kill()
		case <-stop:
		}
	}()
	err = mux.Wait()
	logger.Debugf("multiplexer stopped: %v", mux.Report())
	for _, name := range []string{shop.CartCollection, shop.ProductCollection} {
		if routeErr := mux.Err(name); routeErr != nil {
			logger.Errorf("%v", routeErr)
		}
	}
	return errors.Trace(err)
}

var (
	cartColor    = ansiterm.Foreground(ansiterm.Green)
	productColor = ansiterm.Foreground(ansiterm.Yellow)
)

func printChanges[T any](out *printer, color *ansiterm.Context) eventmultiplexer.Handler[T] {
	return func(_ context.Context, change changestream.Change[T]) error {
		out.change(color, change)
		return nil
	}
}

// printer serialises the output of the routes and the heartbeat.
type printer struct {
	mu sync.Mutex
	w  *ansiterm.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: ansiterm.NewWriter(w)}
}

func (p *printer) change(color *ansiterm.Context, change fmt.Stringer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	color.Fprintf(p.w, "%s\n", change)
}

func (p *printer) blank() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}
