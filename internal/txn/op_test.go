// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/internal/store"
)

type opSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&opSuite{})

func (s *opSuite) TestOpKindString(c *gc.C) {
	c.Check(Insert.String(), gc.Equals, "insert")
	c.Check(Update.String(), gc.Equals, "update")
	c.Check(DeleteMany.String(), gc.Equals, "delete-many")
	c.Check(OpKind(7).String(), gc.Equals, "op(7)")
}

func (s *opSuite) TestParseMode(c *gc.C) {
	for _, mode := range []Mode{None, Transactional} {
		parsed, err := ParseMode(mode.String())
		c.Assert(err, jc.ErrorIsNil)
		c.Check(parsed, gc.Equals, mode)
	}
	_, err := ParseMode("eventual")
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *opSuite) TestValidate(c *gc.C) {
	for i, test := range []struct {
		op  WriteOp
		err string
	}{{
		op:  WriteOp{Kind: Insert, Document: struct{}{}},
		err: `insert  without collection not valid`,
	}, {
		op:  WriteOp{Collection: "cart", Kind: Insert},
		err: `insert cart without document not valid`,
	}, {
		op:  WriteOp{Collection: "product", Kind: Update, Mutation: store.Inc("stock", -1)},
		err: `update product .* without filter not valid`,
	}, {
		op:  WriteOp{Collection: "product", Kind: Update, Filter: store.ByID("beer")},
		err: `update product .* without mutation not valid`,
	}, {
		op:  WriteOp{Collection: "product", Kind: OpKind(7)},
		err: `op\(7\) product not valid`,
	}} {
		c.Logf("test %d: %v", i, test.op)
		c.Check(test.op.Validate(), gc.ErrorMatches, test.err)
	}
	c.Check(WriteOp{Collection: "cart", Kind: DeleteMany}.Validate(), jc.ErrorIsNil)
}
