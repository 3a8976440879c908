// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongostore

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/codec"
)

const invalidate = "invalidate"

// Pipeline returns the aggregation pipeline opening a change stream for
// the filter. Only the kind mask is evaluated by the server.
func Pipeline(filter changestream.Filter) mongo.Pipeline {
	mask := changestream.All
	if filter != nil {
		mask = filter.ChangeMask()
	}
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: mask.Names()}}},
		}}},
	}
}

// rawChange is the subset of a change event document the stream reads.
type rawChange struct {
	ClusterTime   bson.Timestamp `bson:"clusterTime"`
	OperationType string         `bson:"operationType"`
	Namespace     struct {
		Collection string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID bson.RawValue `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw `bson:"fullDocument,omitempty"`
	FullDocumentBeforeChange bson.Raw `bson:"fullDocumentBeforeChange,omitempty"`
}

type changeStream struct {
	coll       *mongo.Collection
	pipeline   mongo.Pipeline
	opts       *options.ChangeStreamOptionsBuilder
	visibility changestream.Visibility

	cs      *mongo.ChangeStream
	current changestream.RawEvent
	err     error

	// interrupted is set when a Next call's context ended. The driver
	// cursor is unusable then, so the next call reopens it from the last
	// resume token.
	interrupted bool
}

// Next is part of the store.ChangeStream interface.
func (s *changeStream) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	if s.interrupted {
		if err := s.resume(ctx); err != nil {
			if ctx.Err() == nil {
				s.err = errors.Annotate(err, "resuming change stream")
			}
			return false
		}
	}
	if !s.cs.Next(ctx) {
		if ctx.Err() != nil {
			s.interrupted = true
			return false
		}
		// The server closes the cursor after an invalidate event even
		// when the pipeline filtered the event itself out.
		if s.cs.Err() == nil {
			s.err = store.ErrStreamInvalidated
		}
		return false
	}
	var ev rawChange
	if err := s.cs.Decode(&ev); err != nil {
		s.err = errors.Annotate(err, "decoding change event")
		return false
	}
	event, err := toRawEvent(ev, s.visibility)
	if err != nil {
		s.err = errors.Trace(err)
		return false
	}
	s.current = event
	return true
}

func (s *changeStream) resume(ctx context.Context) error {
	if token := s.cs.ResumeToken(); token != nil {
		s.opts.SetResumeAfter(token)
	}
	_ = s.cs.Close(ctx)
	cs, err := s.coll.Watch(ctx, s.pipeline, s.opts)
	if err != nil {
		return translate(err)
	}
	s.cs = cs
	s.interrupted = false
	return nil
}

func toRawEvent(ev rawChange, visibility changestream.Visibility) (changestream.RawEvent, error) {
	if ev.OperationType == invalidate {
		return changestream.RawEvent{}, store.ErrStreamInvalidated
	}
	kind, err := changestream.ParseOperationKind(ev.OperationType)
	if err != nil {
		return changestream.RawEvent{}, errors.Trace(err)
	}
	event := changestream.RawEvent{
		ClusterTime: changestream.ClusterTime{T: ev.ClusterTime.T, I: ev.ClusterTime.I},
		Kind:        kind,
		Namespace:   ev.Namespace.Collection,
		DocumentKey: documentKey(ev.DocumentKey.ID),
	}
	image := ev.FullDocument
	if visibility == changestream.PreImage {
		image = ev.FullDocumentBeforeChange
	}
	if len(image) > 0 {
		event.Document = codec.Raw(image)
	}
	return event, nil
}

func documentKey(id bson.RawValue) string {
	if s, ok := id.StringValueOK(); ok {
		return s
	}
	if oid, ok := id.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}

// Event is part of the store.ChangeStream interface.
func (s *changeStream) Event() changestream.RawEvent {
	return s.current
}

// Err is part of the store.ChangeStream interface.
func (s *changeStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.interrupted {
		return nil
	}
	return translate(s.cs.Err())
}

// Close is part of the store.ChangeStream interface.
func (s *changeStream) Close(ctx context.Context) error {
	return translate(s.cs.Close(ctx))
}
