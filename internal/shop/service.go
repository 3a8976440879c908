// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package shop implements the cart and stock business operations on top
// of the transaction coordinator.
package shop

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/shopstream/core/shop"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/txn"
)

// ErrInsufficientStock is returned by Purchase when the product does not
// hold enough stock at the time it is read.
const ErrInsufficientStock = errors.ConstError("insufficient stock")

// Coordinator applies the writes of a business operation.
type Coordinator interface {
	Apply(ctx context.Context, mode txn.Mode, ops []txn.WriteOp) (txn.Result, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Debugf(message string, args ...any)
	Infof(message string, args ...any)
}

// Service provides the API for working with carts and products.
type Service struct {
	conn   store.Connection
	coord  Coordinator
	logger Logger
}

// NewService returns a new service reference reading through conn and
// writing through coord.
func NewService(conn store.Connection, coord Coordinator, logger Logger) *Service {
	return &Service{
		conn:   conn,
		coord:  coord,
		logger: logger,
	}
}

// Reset removes every cart and product.
func (s *Service) Reset(ctx context.Context) error {
	for _, name := range []string{shop.CartCollection, shop.ProductCollection} {
		n, err := s.conn.Collection(name).DeleteMany(ctx, nil)
		if err != nil {
			return errors.Annotatef(err, "clearing %q", name)
		}
		s.logger.Debugf("removed %d document(s) from %q", n, name)
	}
	return nil
}

// SeedProducts inserts the given products. The products are validated
// before any of them is written.
func (s *Service) SeedProducts(ctx context.Context, products ...shop.Product) error {
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return errors.Trace(err)
		}
	}
	coll := s.conn.Collection(shop.ProductCollection)
	for _, p := range products {
		if err := coll.InsertOne(ctx, p); err != nil {
			return errors.Annotatef(err, "seeding product %q", p.ID)
		}
	}
	return nil
}

// Cart returns the cart of the given owner. If there is none an error
// satisfying [errors.NotFound] is returned.
func (s *Service) Cart(ctx context.Context, owner string) (shop.Cart, error) {
	var cart shop.Cart
	err := s.conn.Collection(shop.CartCollection).FindOne(ctx, store.ByID(owner), &cart)
	if err != nil {
		return shop.Cart{}, errors.Annotatef(err, "reading cart of %q", owner)
	}
	return cart, nil
}

// Product returns the product with the given id. If there is none an error
// satisfying [errors.NotFound] is returned.
func (s *Service) Product(ctx context.Context, id string) (shop.Product, error) {
	var p shop.Product
	err := s.conn.Collection(shop.ProductCollection).FindOne(ctx, store.ByID(id), &p)
	if err != nil {
		return shop.Product{}, errors.Annotatef(err, "reading product %q", id)
	}
	return p, nil
}

// Purchase adds n units of the product to the owner's cart and takes them
// out of stock, applying both writes with the given mode.
//
// The product and cart are read before anything is written and nothing
// holds them in between: in None mode two concurrent purchases can both
// see enough stock and oversell it.
func (s *Service) Purchase(ctx context.Context, mode txn.Mode, owner, productID string, n int64) (txn.Result, error) {
	if owner == "" {
		return txn.Result{}, errors.NotValidf("purchase without owner")
	}
	if n <= 0 {
		return txn.Result{}, errors.NotValidf("purchase of %d %q", n, productID)
	}

	product, err := s.Product(ctx, productID)
	if err != nil {
		return txn.Result{}, errors.Trace(err)
	}
	if product.Stock < n {
		return txn.Result{}, errors.Annotatef(ErrInsufficientStock, "%d %q wanted, %d left", n, productID, product.Stock)
	}

	var cartOp txn.WriteOp
	cart, err := s.Cart(ctx, owner)
	switch {
	case errors.Is(err, errors.NotFound):
		cartOp = InsertCartOp(owner, shop.Item{ProductID: productID, Quantity: n, UnitPrice: product.Price})
	case err != nil:
		return txn.Result{}, errors.Trace(err)
	default:
		if _, ok := cart.Item(productID); ok {
			cartOp = IncrementItemOp(owner, productID, n)
		} else {
			cartOp = AddItemOp(owner, shop.Item{ProductID: productID, Quantity: n, UnitPrice: product.Price})
		}
	}

	s.logger.Debugf("%s buys %d %q (%s)", owner, n, productID, mode)
	result, err := s.coord.Apply(ctx, mode, []txn.WriteOp{cartOp, DecrementStockOp(productID, n)})
	if err != nil {
		return result, errors.Annotatef(err, "purchase of %d %q by %q", n, productID, owner)
	}
	s.logger.Infof("%s bought %d %q (%s)", owner, n, productID, mode)
	return result, nil
}

// InsertCartOp creates the cart of owner holding the given items.
func InsertCartOp(owner string, items ...shop.Item) txn.WriteOp {
	return txn.WriteOp{
		Collection:  shop.CartCollection,
		Kind:        txn.Insert,
		Document:    shop.Cart{Owner: owner, Items: items},
		Description: "insert cart " + owner,
	}
}

// IncrementItemOp adds n to the quantity of the product already in the
// owner's cart.
func IncrementItemOp(owner, productID string, n int64) txn.WriteOp {
	return txn.WriteOp{
		Collection: shop.CartCollection,
		Kind:       txn.Update,
		Filter: store.And(
			store.ByID(owner),
			store.ElemMatch("items", store.Eq("productId", productID)),
		),
		Mutation: store.Inc("items."+store.PositionalOperator+".quantity", n),
	}
}

// AddItemOp appends a new item to the owner's cart.
func AddItemOp(owner string, item shop.Item) txn.WriteOp {
	return txn.WriteOp{
		Collection: shop.CartCollection,
		Kind:       txn.Update,
		Filter:     store.ByID(owner),
		Mutation:   store.Push("items", item),
	}
}

// DecrementStockOp takes n units of the product out of stock.
func DecrementStockOp(productID string, n int64) txn.WriteOp {
	return txn.WriteOp{
		Collection: shop.ProductCollection,
		Kind:       txn.Update,
		Filter:     store.ByID(productID),
		Mutation:   store.Inc("stock", -n),
	}
}
