// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package shop holds the entities stored by the cart and product
// collections.
package shop

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"
)

const (
	// CartCollection is the name of the collection holding carts.
	CartCollection = "cart"

	// ProductCollection is the name of the collection holding products.
	ProductCollection = "product"
)

// Item is a line of a cart. A cart holds at most one item per product.
type Item struct {
	ProductID string          `bson:"productId"`
	Quantity  int64           `bson:"quantity"`
	UnitPrice decimal.Decimal `bson:"price"`
}

// Cart is keyed by its owner.
type Cart struct {
	Owner string `bson:"_id"`
	Items []Item `bson:"items"`
}

// Item returns the item for the given product, if the cart holds one.
func (c Cart) Item(productID string) (Item, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return Item{}, false
}

// Validate returns an error if the cart breaks the one item per product
// rule or carries negative quantities or prices.
func (c Cart) Validate() error {
	if c.Owner == "" {
		return errors.NotValidf("cart without owner")
	}
	seen := set.NewStrings()
	for _, item := range c.Items {
		if seen.Contains(item.ProductID) {
			return errors.NotValidf("cart %q: duplicate item %q", c.Owner, item.ProductID)
		}
		seen.Add(item.ProductID)
		if err := item.Validate(); err != nil {
			return errors.Annotatef(err, "cart %q", c.Owner)
		}
	}
	return nil
}

// Validate returns an error if the item is incomplete or negative.
func (i Item) Validate() error {
	if i.ProductID == "" {
		return errors.NotValidf("item without product id")
	}
	if i.Quantity < 0 {
		return errors.NotValidf("item %q quantity %d", i.ProductID, i.Quantity)
	}
	if i.UnitPrice.IsNegative() {
		return errors.NotValidf("item %q price %s", i.ProductID, i.UnitPrice)
	}
	return nil
}

// Total returns the price of every item in the cart.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return total
}

// Product is a stock record. Stock is allowed to go negative: nothing
// prevents two uncoordinated buyers from overselling.
type Product struct {
	ID    string          `bson:"_id"`
	Stock int64           `bson:"stock"`
	Price decimal.Decimal `bson:"price"`
}

// Validate returns an error if the product has no id or a negative price.
func (p Product) Validate() error {
	if p.ID == "" {
		return errors.NotValidf("product without id")
	}
	if p.Price.IsNegative() {
		return errors.NotValidf("product %q price %s", p.ID, p.Price)
	}
	return nil
}
