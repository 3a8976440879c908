// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/shopspring/decimal"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/cmd"
	"github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/config"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/memstore"
)

type changeStreamsSuite struct {
	testing.IsolationSuite

	store *memstore.Store
	clock *testclock.Clock
}

var _ = gc.Suite(&changeStreamsSuite{})

func (s *changeStreamsSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = memstore.New()
	s.AddCleanup(func(*gc.C) { _ = s.store.Close(context.Background()) })
	s.clock = testclock.NewClock(time.Now())
}

// keepOpen lets the test read the store once the command closed it.
type keepOpen struct {
	*memstore.Store
}

func (keepOpen) Close(context.Context) error { return nil }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *changeStreamsSuite) command(env map[string]string) (*changeStreamsCommand, <-chan struct{}) {
	started := make(chan struct{})
	command := newChangeStreamsCommand()
	command.clock = s.clock
	command.Lookup = func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	command.Dial = func(context.Context, string, string) (store.Connection, error) {
		return keepOpen{s.store}, nil
	}
	command.started = func() { close(started) }
	return command, started
}

// start runs the command until the returned function is called, which
// returns the exit code.
func (s *changeStreamsSuite) start(c *gc.C, command *changeStreamsCommand, started <-chan struct{}, out *syncBuffer, args ...string) func() int {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- cmd.Main(command, &cmd.Context{
			Context: ctx,
			Stdout:  out,
			Stderr:  out,
		}, args)
	}()
	select {
	case <-started:
	case code := <-done:
		cancel()
		c.Fatalf("command exited with %d: %s", code, out)
	case <-time.After(testing.LongWait):
		cancel()
		c.Fatalf("routes not subscribed")
	}
	return func() int {
		cancel()
		select {
		case code := <-done:
			return code
		case <-time.After(testing.LongWait):
			c.Fatalf("command did not stop")
		}
		return -1
	}
}

func waitForOutput(c *gc.C, out *syncBuffer, ok func(string) bool) string {
	timeout := time.After(testing.LongWait)
	for {
		if s := out.String(); ok(s) {
			return s
		}
		select {
		case <-timeout:
			c.Fatalf("unexpected output: %q", out.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *changeStreamsSuite) TestPrintsWatchedChanges(c *gc.C) {
	command, started := s.command(nil)
	out := &syncBuffer{}
	stop := s.start(c, command, started, out, "memory://")

	ctx := context.Background()
	products := s.store.Collection(shop.ProductCollection)
	carts := s.store.Collection(shop.CartCollection)
	err := products.InsertOne(ctx, shop.Product{ID: "beer", Stock: 5, Price: decimal.NewFromInt(3)})
	c.Assert(err, jc.ErrorIsNil)
	err = carts.InsertOne(ctx, shop.Cart{Owner: "Alice", Items: []shop.Item{
		{ProductID: "beer", Quantity: 2, UnitPrice: decimal.NewFromInt(3)},
	}})
	c.Assert(err, jc.ErrorIsNil)
	_, err = products.UpdateOne(ctx, store.ByID("beer"), store.Inc("stock", -2))
	c.Assert(err, jc.ErrorIsNil)
	_, err = carts.DeleteMany(ctx, store.ByID("Alice"))
	c.Assert(err, jc.ErrorIsNil)

	output := waitForOutput(c, out, func(s string) bool {
		return strings.Count(s, "=>") >= 2
	})
	// Give a wrongly delivered insert or delete the chance to show up.
	time.Sleep(testing.ShortWait)
	output = out.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	c.Check(lines, jc.SameContents, []string{
		"Timestamp{2, 1} => {Owner:Alice Items:[{ProductID:beer Quantity:2 UnitPrice:3}]}",
		"Timestamp{3, 1} => {ID:beer Stock:3 Price:3}",
	})

	c.Check(stop(), gc.Equals, 0)
}

func (s *changeStreamsSuite) TestClearsCollections(c *gc.C) {
	err := s.store.Collection(shop.CartCollection).InsertOne(context.Background(), shop.Cart{Owner: "Bob"})
	c.Assert(err, jc.ErrorIsNil)

	command, started := s.command(nil)
	stop := s.start(c, command, started, &syncBuffer{}, "memory://")
	c.Check(stop(), gc.Equals, 0)

	var cart shop.Cart
	err = s.store.Collection(shop.CartCollection).FindOne(context.Background(), store.ByID("Bob"), &cart)
	c.Check(err, gc.ErrorMatches, `.*not found`)
}

func (s *changeStreamsSuite) TestKeep(c *gc.C) {
	err := s.store.Collection(shop.CartCollection).InsertOne(context.Background(), shop.Cart{Owner: "Bob"})
	c.Assert(err, jc.ErrorIsNil)

	command, started := s.command(nil)
	stop := s.start(c, command, started, &syncBuffer{}, "--keep", "memory://")
	c.Check(stop(), gc.Equals, 0)

	var cart shop.Cart
	err = s.store.Collection(shop.CartCollection).FindOne(context.Background(), store.ByID("Bob"), &cart)
	c.Check(err, jc.ErrorIsNil)
}

func (s *changeStreamsSuite) TestHeartbeat(c *gc.C) {
	command, started := s.command(map[string]string{config.HeartbeatInterval: "5s"})
	out := &syncBuffer{}
	stop := s.start(c, command, started, out, "memory://")

	for i := 1; i <= 2; i++ {
		err := s.clock.WaitAdvance(5*time.Second, testing.LongWait, 1)
		c.Assert(err, jc.ErrorIsNil)
		waitForOutput(c, out, func(s string) bool {
			return s == strings.Repeat("\n", i)
		})
	}
	c.Check(stop(), gc.Equals, 0)
}

func (s *changeStreamsSuite) TestWatchFailure(c *gc.C) {
	c.Assert(s.store.Close(context.Background()), jc.ErrorIsNil)

	command, _ := s.command(nil)
	var stderr bytes.Buffer
	code := cmd.Main(command, &cmd.Context{
		Context: context.Background(),
		Stdout:  &bytes.Buffer{},
		Stderr:  &stderr,
	}, []string{"--keep", "memory://"})
	c.Check(code, gc.Equals, 1)
	c.Check(stderr.String(), gc.Matches, `ERROR watching "cart": .*\n`)
}
