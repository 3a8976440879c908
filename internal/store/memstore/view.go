// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"github.com/juju/errors"

	"github.com/juju/shopstream/core/changestream"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/codec"
)

type stagedDoc struct {
	// doc is nil once the document has been deleted.
	doc  document
	base uint64
}

type stagedOp struct {
	kind    changestream.OperationKind
	ref     docRef
	pre     document
	post    document
	preRaw  codec.Raw
	postRaw codec.Raw
}

// view is a set of writes staged on top of the committed documents.
// Reads through a view see its own writes.
type view struct {
	sessionID string
	implicit  bool
	docs      map[docRef]*stagedDoc
	ops       []stagedOp

	// err is set once the transaction can no longer commit.
	err error
}

func newView(sessionID string, implicit bool) *view {
	return &view{
		sessionID: sessionID,
		implicit:  implicit,
		docs:      make(map[docRef]*stagedDoc),
	}
}

func (v *view) get(s *Store, ref docRef) (document, bool) {
	if staged, ok := v.docs[ref]; ok {
		return staged.doc, staged.doc != nil
	}
	rec, ok := s.collections[ref.collection][ref.id]
	if !ok {
		return nil, false
	}
	return rec.doc, true
}

func (v *view) ids(s *Store, name string) []string {
	ids := s.ids(name)
	for ref := range v.docs {
		if ref.collection != name {
			continue
		}
		if _, committed := s.collections[name][ref.id]; !committed {
			ids = append(ids, ref.id)
		}
	}
	return sortedIDs(ids)
}

// first returns the first document, in key order, matching the filter.
func (v *view) first(s *Store, name string, filter store.Filter) (docRef, document, map[string]int, bool) {
	for _, id := range v.ids(s, name) {
		ref := docRef{collection: name, id: id}
		doc, ok := v.get(s, ref)
		if !ok {
			continue
		}
		if positions, ok := match(doc, filter); ok {
			return ref, doc, positions, true
		}
	}
	return docRef{}, nil, nil, false
}

// touch claims ref for this view before it is written. A document
// claimed by another open transaction is a write conflict.
func (v *view) touch(s *Store, ref docRef) error {
	if _, ok := v.docs[ref]; ok {
		return nil
	}
	if owner, locked := s.locks[ref]; locked && owner != v.sessionID {
		return conflict(ref)
	}
	staged := &stagedDoc{}
	if rec, ok := s.collections[ref.collection][ref.id]; ok {
		staged.doc = rec.doc
		staged.base = rec.version
	}
	v.docs[ref] = staged
	if !v.implicit {
		s.locks[ref] = v.sessionID
	}
	return nil
}

func (v *view) put(ref docRef, kind changestream.OperationKind, pre, post document) error {
	op := stagedOp{kind: kind, ref: ref, pre: pre, post: post}
	var err error
	if op.preRaw, err = encode(pre); err != nil {
		return errors.Trace(err)
	}
	if op.postRaw, err = encode(post); err != nil {
		return errors.Trace(err)
	}
	v.docs[ref].doc = post
	v.ops = append(v.ops, op)
	return nil
}

func conflict(ref docRef) error {
	return store.WithErrorLabels(
		errors.Annotatef(store.ErrWriteConflict, "document %q in %q", ref.id, ref.collection),
		store.TransientTransactionError,
	)
}
