// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongostore_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/shopspring/decimal"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/mongostore"
)

// mongoURIEnv names the replica set the live tests run against.
const mongoURIEnv = "SHOPSTREAM_TEST_MONGO_URI"

type mongoSuite struct {
	testing.IsolationSuite

	uri  string
	conn *mongostore.Connection
}

var _ = gc.Suite(&mongoSuite{})

func (s *mongoSuite) SetUpSuite(c *gc.C) {
	s.uri = os.Getenv(mongoURIEnv)
	if s.uri == "" {
		c.Skip(mongoURIEnv + " not set")
	}
	s.IsolationSuite.SetUpSuite(c)
}

func (s *mongoSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := mongostore.Connect(ctx, s.uri, fmt.Sprintf("shopstream_test_%d", time.Now().UnixNano()))
	c.Assert(err, jc.ErrorIsNil)
	s.conn = conn
	s.AddCleanup(func(*gc.C) { _ = conn.Close(context.Background()) })
	for _, name := range []string{shop.CartCollection, shop.ProductCollection} {
		_, err := conn.Collection(name).DeleteMany(ctx, nil)
		c.Assert(err, jc.ErrorIsNil)
	}
}

func (s *mongoSuite) TestWatchSeesInsert(c *gc.C) {
	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()

	products := s.conn.Collection(shop.ProductCollection)
	st, err := products.Watch(ctx, store.WatchOptions{Filter: changestream.KindFilter(changestream.All)})
	c.Assert(err, jc.ErrorIsNil)
	defer st.Close(context.Background())

	err = products.InsertOne(ctx, shop.Product{ID: "beer", Stock: 5, Price: decimal.RequireFromString("3.50")})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(st.Next(ctx), jc.IsTrue, gc.Commentf("%v", st.Err()))
	ev := st.Event()
	c.Check(ev.Kind, gc.Equals, changestream.Insert)
	c.Check(ev.DocumentKey, gc.Equals, "beer")

	var p shop.Product
	c.Assert(ev.Document.Decode(&p), jc.ErrorIsNil)
	c.Check(p.Price.Equal(decimal.RequireFromString("3.5")), jc.IsTrue)
}

func (s *mongoSuite) TestTransactionCommit(c *gc.C) {
	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()

	products := s.conn.Collection(shop.ProductCollection)
	err := products.InsertOne(ctx, shop.Product{ID: "beer", Stock: 5})
	c.Assert(err, jc.ErrorIsNil)

	sess, err := s.conn.StartSession()
	c.Assert(err, jc.ErrorIsNil)
	defer sess.EndSession(context.Background())
	c.Assert(sess.StartTransaction(store.TxnOptions{WriteConcern: store.Majority}), jc.ErrorIsNil)

	res, err := products.UpdateOne(sess.Bind(ctx), store.ByID("beer"), store.Inc("stock", -2))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(res.Matched, gc.Equals, int64(1))
	c.Assert(sess.CommitTransaction(ctx), jc.ErrorIsNil)

	var p shop.Product
	c.Assert(products.FindOne(ctx, store.ByID("beer"), &p), jc.ErrorIsNil)
	c.Check(p.Stock, gc.Equals, int64(3))
}

func (s *mongoSuite) TestWatchResumesAfterContextDone(c *gc.C) {
	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()

	products := s.conn.Collection(shop.ProductCollection)
	st, err := products.Watch(ctx, store.WatchOptions{Filter: changestream.KindFilter(changestream.All)})
	c.Assert(err, jc.ErrorIsNil)
	defer st.Close(context.Background())

	short, cancelShort := context.WithTimeout(ctx, testing.ShortWait)
	defer cancelShort()
	c.Assert(st.Next(short), jc.IsFalse)
	c.Assert(st.Err(), jc.ErrorIsNil)

	err = products.InsertOne(ctx, shop.Product{ID: "beer", Stock: 5})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Next(ctx), jc.IsTrue, gc.Commentf("%v", st.Err()))
	c.Check(st.Event().DocumentKey, gc.Equals, "beer")
}

func (s *mongoSuite) TestPushOntoCartWithoutItems(c *gc.C) {
	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()

	carts := s.conn.Collection(shop.CartCollection)
	c.Assert(carts.InsertOne(ctx, shop.Cart{Owner: "Bob"}), jc.ErrorIsNil)
	_, err := carts.UpdateOne(ctx, store.ByID("Bob"), store.Push("items", shop.Item{ProductID: "beer", Quantity: 1}))
	c.Assert(err, jc.ErrorIsNil)

	var cart shop.Cart
	c.Assert(carts.FindOne(ctx, store.ByID("Bob"), &cart), jc.ErrorIsNil)
	c.Check(cart.Items, gc.HasLen, 1)
}
