// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dial opens a store connection for a URI.
package dial

import (
	"context"
	"net/url"

	"github.com/juju/errors"

	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/memstore"
	"github.com/juju/shopstream/internal/store/mongostore"
)

// Open connects to the store at uri. The "memory" scheme selects a fresh
// in-memory store; "mongodb" and "mongodb+srv" select a MongoDB replica
// set.
func Open(ctx context.Context, uri, database string) (store.Connection, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.NotValidf("store uri %q", uri)
	}
	switch u.Scheme {
	case memstore.Scheme:
		return memstore.New(), nil
	case "mongodb", "mongodb+srv":
		conn, err := mongostore.Connect(ctx, uri, database)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return conn, nil
	}
	return nil, errors.NotSupportedf("store uri scheme %q", u.Scheme)
}
