// Copyright 2023 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package changestream

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// OperationKind represents the kind of write that produced a change.
// The kinds are bit flags so that they can be combined into a mask.
type OperationKind int

const (
	// Insert represents a new document in a collection.
	Insert OperationKind = 1 << iota
	// Update represents a partial update to an existing document.
	Update
	// Replace represents a whole document replacement.
	Replace
	// Delete represents a document that has been removed.
	Delete
	// All represents any change to the collection of interest.
	All = Insert | Update | Replace | Delete
)

var kindNames = []struct {
	kind OperationKind
	name string
}{
	{Insert, "insert"},
	{Update, "update"},
	{Replace, "replace"},
	{Delete, "delete"},
}

// ParseOperationKind returns the kind for the store's operation type name.
func ParseOperationKind(name string) (OperationKind, error) {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind, nil
		}
	}
	return 0, errors.NotValidf("operation type %q", name)
}

// Names returns the store operation type names contained in the mask,
// sorted.
func (k OperationKind) Names() []string {
	names := set.NewStrings()
	for _, n := range kindNames {
		if k&n.kind != 0 {
			names.Add(n.name)
		}
	}
	return names.SortedValues()
}

// String implements fmt.Stringer.
func (k OperationKind) String() string {
	names := k.Names()
	switch len(names) {
	case 0:
		return "none"
	case 1:
		return names[0]
	}
	return fmt.Sprintf("%v", names)
}

// ClusterTime is the logical clock value the store assigns to a write.
// Changes on a collection are delivered in cluster time order.
type ClusterTime struct {
	T uint32
	I uint32
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to
// or after other.
func (t ClusterTime) Compare(other ClusterTime) int {
	switch {
	case t.T < other.T:
		return -1
	case t.T > other.T:
		return 1
	case t.I < other.I:
		return -1
	case t.I > other.I:
		return 1
	}
	return 0
}

// After reports whether t is strictly after other.
func (t ClusterTime) After(other ClusterTime) bool {
	return t.Compare(other) > 0
}

// IsZero reports whether the time has never been set.
func (t ClusterTime) IsZero() bool {
	return t.T == 0 && t.I == 0
}

// String implements fmt.Stringer, matching the store's timestamp format.
func (t ClusterTime) String() string {
	return fmt.Sprintf("Timestamp{%d, %d}", t.T, t.I)
}

// Visibility selects which image of the document a change carries.
type Visibility int

const (
	// PostImage carries the full current document after the write. Partial
	// updates are therefore observed as complete entities. This is the
	// default.
	PostImage Visibility = iota
	// PreImage carries the document as it was before the write, when the
	// store has it.
	PreImage
)

// String implements fmt.Stringer.
func (v Visibility) String() string {
	if v == PreImage {
		return "pre-image"
	}
	return "post-image"
}

// Document is an undecoded document carried by a raw change.
type Document interface {
	// Decode decodes the document into the value pointed to by v.
	Decode(v any) error
}

// RawEvent is a change as read from the store, before its document has
// been decoded.
type RawEvent struct {
	ClusterTime ClusterTime
	Kind        OperationKind
	// Namespace is the collection the change was made on.
	Namespace   string
	DocumentKey string
	// Document is nil when the store has no image to offer, for example
	// the post-image of a delete.
	Document Document
}

// Change is a decoded change of a collection whose documents are of type T.
type Change[T any] struct {
	ClusterTime ClusterTime
	Kind        OperationKind
	Namespace   string
	DocumentKey string
	Document    T
	// HasDocument is false when the store sent no image.
	HasDocument bool
}

// String implements fmt.Stringer in the "time => document" format used by
// the feed printers.
func (c Change[T]) String() string {
	if !c.HasDocument {
		return fmt.Sprintf("%s => %s %s(%s)", c.ClusterTime, c.Kind, c.Namespace, c.DocumentKey)
	}
	return fmt.Sprintf("%s => %+v", c.ClusterTime, c.Document)
}

// Filter is the predicate of a subscription. The kind mask can always be
// evaluated by the store; the optional document predicate is evaluated by
// the consumer.
type Filter interface {
	// ChangeMask returns the operation kinds the filter accepts.
	ChangeMask() OperationKind
	// Matches reports whether the raw event satisfies the filter.
	Matches(RawEvent) bool
}

type kindFilter struct {
	mask      OperationKind
	predicate func(RawEvent) bool
}

// KindFilter returns a filter accepting events whose operation kind is in
// the mask.
func KindFilter(mask OperationKind) Filter {
	return kindFilter{mask: mask}
}

// PredicateFilter returns a filter accepting events whose operation kind
// is in the mask and which satisfy the predicate.
func PredicateFilter(mask OperationKind, predicate func(RawEvent) bool) Filter {
	return kindFilter{mask: mask, predicate: predicate}
}

// ChangeMask is part of the Filter interface.
func (f kindFilter) ChangeMask() OperationKind {
	return f.mask
}

// Matches is part of the Filter interface.
func (f kindFilter) Matches(ev RawEvent) bool {
	if f.mask&ev.Kind == 0 {
		return false
	}
	return f.predicate == nil || f.predicate(ev)
}
