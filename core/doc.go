// Copyright 2015 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core holds the concepts and pure logic of the shopstream domain:
the documents stored in the cart and product collections, and the shape
of the changes their change streams deliver.

It's most important to be aware of what should *not* go here:

  - if it makes any reference to MongoDB, or to any other store, it should
    not be in here.
  - if it starts goroutines or owns resources it should not be in here;
    workers live under internal/worker.

Subpackages of core may import each other, and third-party packages
holding value types (decimal, uuid), but nothing from internal.
*/
package core
