// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore_test

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/memstore"
)

type sessionSuite struct {
	baseSuite
}

var _ = gc.Suite(&sessionSuite{})

func (s *sessionSuite) begin(c *gc.C) (store.Session, context.Context) {
	sess, err := s.store.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(*gc.C) { sess.EndSession(context.Background()) })
	err = sess.StartTransaction(store.TxnOptions{WriteConcern: store.Majority})
	c.Assert(err, jc.ErrorIsNil)
	return sess, sess.Bind(context.Background())
}

func (s *sessionSuite) TestCommitIsAtomic(c *gc.C) {
	s.seed(c)
	st := s.watch(c, shop.ProductCollection, store.WatchOptions{})
	sess, ctx := s.begin(c)

	products := s.store.Collection(shop.ProductCollection)
	_, err := products.UpdateOne(ctx, store.ByID("beer"), store.Inc("stock", -1))
	c.Assert(err, jc.ErrorIsNil)
	_, err = products.UpdateOne(ctx, store.ByID("chips"), store.Inc("stock", -1))
	c.Assert(err, jc.ErrorIsNil)

	// Nothing is visible outside the transaction before commit.
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(5))
	assertNoEvent(c, st)

	// The transaction reads its own writes.
	var p shop.Product
	err = products.FindOne(ctx, store.ByID("beer"), &p)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Stock, gc.Equals, int64(4))

	err = sess.CommitTransaction(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(4))
	c.Check(s.product(c, "chips").Stock, gc.Equals, int64(2))

	first := nextEvent(c, st)
	second := nextEvent(c, st)
	c.Check(first.ClusterTime.T, gc.Equals, second.ClusterTime.T)
	c.Check(second.ClusterTime.After(first.ClusterTime), jc.IsTrue)
}

func (s *sessionSuite) TestAbortDiscards(c *gc.C) {
	s.seed(c)
	sess, ctx := s.begin(c)
	_, err := s.store.Collection(shop.ProductCollection).UpdateOne(ctx, store.ByID("beer"), store.Inc("stock", -5))
	c.Assert(err, jc.ErrorIsNil)

	err = sess.AbortTransaction(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(5))

	err = sess.AbortTransaction(context.Background())
	c.Check(err, jc.ErrorIs, store.ErrNoTransaction)
}

func (s *sessionSuite) TestEndSessionAborts(c *gc.C) {
	s.seed(c)
	sess, err := s.store.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.store.OpenSessions(), gc.Equals, 1)
	c.Assert(sess.StartTransaction(store.TxnOptions{}), jc.ErrorIsNil)
	_, err = s.store.Collection(shop.ProductCollection).UpdateOne(
		sess.Bind(context.Background()), store.ByID("beer"), store.Inc("stock", -5))
	c.Assert(err, jc.ErrorIsNil)

	sess.EndSession(context.Background())
	sess.EndSession(context.Background())
	c.Check(s.store.OpenSessions(), gc.Equals, 0)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(5))

	err = sess.CommitTransaction(context.Background())
	c.Check(err, jc.ErrorIs, store.ErrSessionEnded)
}

func (s *sessionSuite) TestConcurrentTransactionsConflict(c *gc.C) {
	s.seed(c)
	first, firstCtx := s.begin(c)
	_, secondCtx := s.begin(c)

	products := s.store.Collection(shop.ProductCollection)
	_, err := products.UpdateOne(firstCtx, store.ByID("beer"), store.Inc("stock", -3))
	c.Assert(err, jc.ErrorIsNil)

	_, err = products.UpdateOne(secondCtx, store.ByID("beer"), store.Inc("stock", -3))
	c.Check(err, jc.ErrorIs, store.ErrWriteConflict)
	c.Check(store.HasErrorLabel(err, store.TransientTransactionError), jc.IsTrue)

	// The failed transaction accepts no further writes.
	_, err = products.UpdateOne(secondCtx, store.ByID("chips"), store.Inc("stock", -1))
	c.Check(err, gc.ErrorMatches, "transaction aborted: .*")

	err = first.CommitTransaction(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(2))
	c.Check(s.product(c, "chips").Stock, gc.Equals, int64(3))
}

func (s *sessionSuite) TestNonTransactionalWriteMeetsLock(c *gc.C) {
	s.seed(c)
	_, ctx := s.begin(c)
	products := s.store.Collection(shop.ProductCollection)
	_, err := products.UpdateOne(ctx, store.ByID("beer"), store.Inc("stock", -1))
	c.Assert(err, jc.ErrorIsNil)

	_, err = products.UpdateOne(context.Background(), store.ByID("beer"), store.Inc("stock", -1))
	c.Check(err, jc.ErrorIs, store.ErrWriteConflict)
}

func (s *sessionSuite) TestInjectedCommitError(c *gc.C) {
	s.seed(c)
	sess, ctx := s.begin(c)
	_, err := s.store.Collection(shop.ProductCollection).UpdateOne(ctx, store.ByID("beer"), store.Inc("stock", -1))
	c.Assert(err, jc.ErrorIsNil)

	injected := store.WithErrorLabels(errors.New("no primary"), store.UnknownTransactionCommitResult)
	s.store.InjectCommitErrors(injected)

	err = sess.CommitTransaction(context.Background())
	c.Check(store.HasErrorLabel(err, store.UnknownTransactionCommitResult), jc.IsTrue)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(5))

	err = sess.CommitTransaction(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.product(c, "beer").Stock, gc.Equals, int64(4))
}

func (s *sessionSuite) TestStartTransactionTwice(c *gc.C) {
	sess, _ := s.begin(c)
	err := sess.StartTransaction(store.TxnOptions{})
	c.Check(err, jc.ErrorIs, errors.AlreadyExists)
}

func (s *sessionSuite) TestCommitWithoutTransaction(c *gc.C) {
	sess, err := s.store.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	defer sess.EndSession(context.Background())
	err = sess.CommitTransaction(context.Background())
	c.Check(err, jc.ErrorIs, store.ErrNoTransaction)
}

func (s *sessionSuite) TestInsertInTransaction(c *gc.C) {
	sess, ctx := s.begin(c)
	carts := s.store.Collection(shop.CartCollection)
	err := carts.InsertOne(ctx, shop.Cart{Owner: "Alice"})
	c.Assert(err, jc.ErrorIsNil)
	err = carts.InsertOne(ctx, shop.Cart{Owner: "Alice"})
	c.Check(err, jc.ErrorIs, errors.AlreadyExists)

	var cart shop.Cart
	err = carts.FindOne(context.Background(), store.ByID("Alice"), &cart)
	c.Check(err, jc.ErrorIs, errors.NotFound)

	c.Assert(sess.CommitTransaction(context.Background()), jc.ErrorIsNil)
	err = carts.FindOne(context.Background(), store.ByID("Alice"), &cart)
	c.Check(err, jc.ErrorIsNil)
}

func (s *sessionSuite) TestSessionLimit(c *gc.C) {
	limited := memstore.New(memstore.WithMaxSessions(1))
	sess, err := limited.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	_, err = limited.StartSession()
	c.Check(err, gc.ErrorMatches, "session limit of 1 reached")

	sess.EndSession(context.Background())
	again, err := limited.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	again.EndSession(context.Background())
	c.Check(limited.OpenSessions(), gc.Equals, 0)
}
