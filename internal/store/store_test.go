// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/internal/store"
)

type storeSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&storeSuite{})

func (s *storeSuite) TestFilterString(c *gc.C) {
	f := store.And(
		store.ByID("Alice"),
		store.ElemMatch("items", store.Eq("productId", "beer")),
	)
	c.Check(f, gc.HasLen, 2)
	c.Check(f.String(), gc.Equals, "{_id: Alice, items: {$elemMatch: {productId: beer}}}")
	c.Check(store.Filter(nil).String(), gc.Equals, "{}")
}

func (s *storeSuite) TestMutationAnd(c *gc.C) {
	m := store.Inc("stock", -2).And(store.Push("tags", "sale"))
	c.Check(m, jc.DeepEquals, store.Mutation{
		{Op: store.IncOp, Field: "stock", Value: int64(-2)},
		{Op: store.PushOp, Field: "tags", Value: "sale"},
	})
	c.Check(m.String(), gc.Equals, "{$inc: {stock: -2}, $push: {tags: sale}}")
}

func (s *storeSuite) TestErrorLabels(c *gc.C) {
	err := store.WithErrorLabels(store.ErrWriteConflict, store.TransientTransactionError)
	c.Check(store.HasErrorLabel(err, store.TransientTransactionError), jc.IsTrue)
	c.Check(store.HasErrorLabel(err, store.UnknownTransactionCommitResult), jc.IsFalse)
	c.Check(err, jc.ErrorIs, store.ErrWriteConflict)

	wrapped := errors.Annotate(err, "committing")
	c.Check(store.HasErrorLabel(wrapped, store.TransientTransactionError), jc.IsTrue)

	c.Check(store.HasErrorLabel(errors.New("boom"), store.TransientTransactionError), jc.IsFalse)
	c.Check(store.WithErrorLabels(nil, store.TransientTransactionError), jc.ErrorIsNil)
}
