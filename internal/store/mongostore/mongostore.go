// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mongostore implements the store gateway on a MongoDB replica
// set. Change streams and transactions need a replica set; a standalone
// server is rejected by the first Watch or StartTransaction.
package mongostore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/codec"
)

var (
	_ store.Connection   = (*Connection)(nil)
	_ store.Collection   = (*collection)(nil)
	_ store.Session      = (*session)(nil)
	_ store.ChangeStream = (*changeStream)(nil)
)

// Connection is a store.Connection on one database of a MongoDB
// deployment.
type Connection struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect connects to the deployment at uri and checks that the primary
// is reachable.
func Connect(ctx context.Context, uri, database string) (*Connection, error) {
	client, err := mongo.Connect(clientOptions(uri))
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", Redact(uri))
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Annotatef(err, "pinging %s", Redact(uri))
	}
	return &Connection{
		client: client,
		db:     client.Database(database),
	}, nil
}

func clientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetReadPreference(readpref.Primary()).
		SetRegistry(codec.Registry()).
		SetBSONOptions(codec.BSONOptions())
}

// Redact returns uri without its password, for logging.
func Redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// Collection is part of the store.Connection interface.
func (c *Connection) Collection(name string) store.Collection {
	return &collection{coll: c.db.Collection(name)}
}

// StartSession is part of the store.Connection interface.
func (c *Connection) StartSession() (store.Session, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return nil, translate(err)
	}
	return &session{sess: sess}, nil
}

// Close is part of the store.Connection interface.
func (c *Connection) Close(ctx context.Context) error {
	return translate(c.client.Disconnect(ctx))
}

type collection struct {
	coll *mongo.Collection
}

// Name is part of the store.Collection interface.
func (c *collection) Name() string {
	return c.coll.Name()
}

// InsertOne is part of the store.Collection interface.
func (c *collection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return translate(err)
}

// UpdateOne is part of the store.Collection interface.
func (c *collection) UpdateOne(ctx context.Context, filter store.Filter, mutation store.Mutation) (store.UpdateResult, error) {
	if len(mutation) == 0 {
		return store.UpdateResult{}, errors.NotValidf("empty mutation")
	}
	res, err := c.coll.UpdateOne(ctx, FilterDocument(filter), MutationDocument(mutation))
	if err != nil {
		return store.UpdateResult{}, translate(err)
	}
	return store.UpdateResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
	}, nil
}

// DeleteMany is part of the store.Collection interface.
func (c *collection) DeleteMany(ctx context.Context, filter store.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, FilterDocument(filter))
	if err != nil {
		return 0, translate(err)
	}
	return res.DeletedCount, nil
}

// FindOne is part of the store.Collection interface.
func (c *collection) FindOne(ctx context.Context, filter store.Filter, out any) error {
	err := c.coll.FindOne(ctx, FilterDocument(filter)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.NotFoundf("document matching %s in %q", filter, c.coll.Name())
	}
	return translate(err)
}

// Watch is part of the store.Collection interface.
func (c *collection) Watch(ctx context.Context, opts store.WatchOptions) (store.ChangeStream, error) {
	csOpts := options.ChangeStream()
	switch opts.Visibility {
	case changestream.PreImage:
		csOpts.SetFullDocumentBeforeChange(options.WhenAvailable)
	default:
		csOpts.SetFullDocument(options.UpdateLookup)
	}
	pipeline := Pipeline(opts.Filter)
	cs, err := c.coll.Watch(ctx, pipeline, csOpts)
	if err != nil {
		return nil, errors.Annotatef(translate(err), "watching %q", c.coll.Name())
	}
	return &changeStream{
		coll:       c.coll,
		pipeline:   pipeline,
		opts:       csOpts,
		cs:         cs,
		visibility: opts.Visibility,
	}, nil
}

type session struct {
	sess *mongo.Session
}

// ID is part of the store.Session interface.
func (s *session) ID() string {
	id, err := s.sess.ID().LookupErr("id")
	if err != nil {
		return s.sess.ID().String()
	}
	if _, data, ok := id.BinaryOK(); ok {
		return fmt.Sprintf("%x", data)
	}
	return id.String()
}

// writeConcern returns the driver write concern for w. Nil leaves the
// client's default in place.
func writeConcern(w store.WriteConcern) *writeconcern.WriteConcern {
	switch w {
	case store.Majority:
		return writeconcern.Majority()
	case store.Acknowledged:
		return writeconcern.W1()
	}
	return nil
}

// StartTransaction is part of the store.Session interface.
func (s *session) StartTransaction(opts store.TxnOptions) error {
	txnOpts := options.Transaction()
	if wc := writeConcern(opts.WriteConcern); wc != nil {
		txnOpts.SetWriteConcern(wc)
	}
	return translate(s.sess.StartTransaction(txnOpts))
}

// Bind is part of the store.Session interface.
func (s *session) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

// CommitTransaction is part of the store.Session interface.
func (s *session) CommitTransaction(ctx context.Context) error {
	return translate(s.sess.CommitTransaction(ctx))
}

// AbortTransaction is part of the store.Session interface.
func (s *session) AbortTransaction(ctx context.Context) error {
	return translate(s.sess.AbortTransaction(ctx))
}

// EndSession is part of the store.Session interface.
func (s *session) EndSession(ctx context.Context) {
	s.sess.EndSession(ctx)
}

// Server error codes translated to store errors.
const (
	codeWriteConflict     = 112
	codeNoSuchTransaction = 251
)

// translate maps driver errors onto the store's error types. Error labels
// stay reachable through the wrapped chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrClientDisconnected):
		return errors.WithType(err, store.ErrConnectionClosed)
	case mongo.IsDuplicateKeyError(err):
		return errors.WithType(err, errors.AlreadyExists)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch {
		case cmdErr.Code == codeWriteConflict || cmdErr.Name == "WriteConflict":
			return errors.WithType(err, store.ErrWriteConflict)
		case cmdErr.Code == codeNoSuchTransaction || cmdErr.Name == "NoSuchTransaction":
			return errors.WithType(err, store.ErrNoTransaction)
		}
	}
	return errors.Trace(err)
}
