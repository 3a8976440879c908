// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/shopspring/decimal"

	"github.com/juju/shopstream/cmd"
	coreshop "github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/shop"
	"github.com/juju/shopstream/internal/txn"
)

var logger = loggo.GetLogger("shopstream.cmd.transactions")

const transactionsDoc = `
Walk through the purchase of beers by Alice, first without and then with
a transaction. Each purchase updates the cart and the product collections.

Without a transaction the two writes land at different cluster times and
someone else could buy beers that are no longer in stock in between. With
a transaction both writes become visible together when it commits.

Run changestreams against the same store to watch the writes.
`

const (
	beerID = "beer"
	owner  = "Alice"
)

var beerPrice = decimal.NewFromInt(3)

type transactionsCommand struct {
	cmd.StoreCommandBase

	clock clock.Clock
}

func newTransactionsCommand() *transactionsCommand {
	return &transactionsCommand{clock: clock.WallClock}
}

// Info implements cmd.Command.
func (c *transactionsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "transactions",
		Args:    "<store uri>",
		Purpose: "buy beers with and without a transaction",
		Doc:     transactionsDoc,
	}
}

// step is one purchase of the walkthrough.
type step struct {
	header []string
	mode   txn.Mode
	ops    []txn.WriteOp
	// narration is printed before the op of the same index.
	narration []string
	// pause is the number of pause units waited between the ops.
	pause  int
	footer string
}

func steps() []step {
	return []step{{
		header: []string{
			"###  NO  TRANSACTION ###",
			"Alice wants 2 beers.",
			"We have to update 2 collections : Cart and Product.",
			"The 2 actions are correlated but can not be executed on the same cluster time.",
			"Someone else could buy beers I do not have in stock in between.",
			"-----",
		},
		mode: txn.None,
		ops: []txn.WriteOp{
			shop.InsertCartOp(owner, coreshop.Item{ProductID: beerID, Quantity: 2, UnitPrice: beerPrice}),
			shop.DecrementStockOp(beerID, 2),
		},
		narration: []string{
			"Alice adds 2 beers in her cart.",
			stockUpdated(beerID, -2),
		},
		pause:  2,
		footer: "########################\n",
	}, {
		header: []string{
			"\n### WITH TRANSACTION ###",
			"Alice wants 2 extra beers.",
			"We also have to update the 2 collections simultaneously.",
			"Now the 2 operations only happen when the transaction is committed.",
			"-----",
		},
		mode: txn.Transactional,
		ops: []txn.WriteOp{
			shop.IncrementItemOp(owner, beerID, 2),
			shop.DecrementStockOp(beerID, 2),
		},
		narration: []string{
			"Updating Alice cart : adding 2 beers.",
			stockUpdated(beerID, -2),
		},
		pause:  3,
		footer: "########################",
	}}
}

func stockUpdated(productID string, n int64) string {
	return fmt.Sprintf("Stock updated : %d %s(s).", n, productID)
}

// Run implements cmd.Command.
func (c *transactionsCommand) Run(ctx *cmd.Context) error {
	env, err := c.Open(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := env.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warningf("closing store: %v", err)
		}
	}()

	metrics := txn.NewMetricsCollector()
	if err := env.Registry.Register(metrics); err != nil {
		return errors.Trace(err)
	}

	var current step
	w := &walkthrough{
		out:   ctx.Stdout,
		clock: c.clock,
		unit:  env.Config.DemoPause,
	}
	coord, err := txn.NewCoordinator(txn.Config{
		Connection:     env.Conn,
		Collections:    []string{coreshop.CartCollection, coreshop.ProductCollection},
		CommitAttempts: env.Config.CommitAttempts,
		CommitTimeout:  env.Config.CommitTimeout,
		BetweenOps: func(ctx context.Context, index int, _ txn.WriteOp) error {
			if err := w.sleep(ctx, current.pause); err != nil {
				return errors.Trace(err)
			}
			w.say(current.narration[index])
			return nil
		},
		Metrics: metrics,
		Clock:   c.clock,
		Logger:  logger,
	})
	if err != nil {
		return errors.Trace(err)
	}

	svc := shop.NewService(env.Conn, coord, logger)
	if err := svc.Reset(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := svc.SeedProducts(ctx, coreshop.Product{ID: beerID, Stock: 5, Price: beerPrice}); err != nil {
		return errors.Trace(err)
	}

	for i, s := range steps() {
		if i > 0 {
			if err := w.sleep(ctx, 3); err != nil {
				return errors.Trace(err)
			}
		}
		current = s
		for _, line := range s.header {
			w.say(line)
		}
		w.say(s.narration[0])
		result, err := coord.Apply(ctx, s.mode, s.ops)
		if err != nil {
			return errors.Annotatef(err, "%s purchase", s.mode)
		}
		logger.Debugf("run %s: %d op(s) applied, committed %v", result.RunID, result.Applied, result.Committed)
		w.say(s.footer)
	}

	product, err := svc.Product(ctx, beerID)
	if err != nil {
		return errors.Trace(err)
	}
	cart, err := svc.Cart(ctx, owner)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("%d %s(s) left in stock, %s's cart is worth %s", product.Stock, beerID, owner, cart.Total())
	return nil
}

// walkthrough prints the narration and paces it.
type walkthrough struct {
	out   io.Writer
	clock clock.Clock
	unit  time.Duration
}

func (w *walkthrough) say(line string) {
	fmt.Fprintln(w.out, line)
}

// sleep announces and waits for the given number of pause units.
func (w *walkthrough) sleep(ctx context.Context, units int) error {
	d := time.Duration(units) * w.unit
	w.say(fmt.Sprintf("Sleeping %s...", describe(d)))
	if d == 0 {
		return nil
	}
	select {
	case <-w.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func describe(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", d/time.Second)
	}
	return d.String()
}
