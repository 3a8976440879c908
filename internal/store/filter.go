// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"fmt"
	"strings"
)

// PositionalOperator in a mutation path refers to the array element
// matched by the ElemMatch condition on the same array.
const PositionalOperator = "$"

// Filter is a conjunction of conditions. The empty filter matches every
// document.
type Filter []Condition

// Condition is a single filter condition.
type Condition struct {
	Field string
	// Value is compared for equality with Field when Match is empty.
	Value any
	// Match, when not empty, requires an element of the array Field to
	// satisfy every one of its conditions.
	Match Filter
}

// Eq returns a filter matching documents whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{{Field: field, Value: value}}
}

// ElemMatch returns a filter matching documents with an element of the
// array field satisfying match.
func ElemMatch(field string, match Filter) Filter {
	return Filter{{Field: field, Match: match}}
}

// And returns the conjunction of the filters.
func And(filters ...Filter) Filter {
	var result Filter
	for _, f := range filters {
		result = append(result, f...)
	}
	return result
}

// ByID returns a filter matching the document with the given _id.
func ByID(id any) Filter {
	return Eq("_id", id)
}

// String implements fmt.Stringer.
func (f Filter) String() string {
	if len(f) == 0 {
		return "{}"
	}
	parts := make([]string, len(f))
	for i, c := range f {
		if len(c.Match) > 0 {
			parts[i] = fmt.Sprintf("%s: {$elemMatch: %s}", c.Field, c.Match)
			continue
		}
		parts[i] = fmt.Sprintf("%s: %v", c.Field, c.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ModifierOp is the kind of a mutation modifier.
type ModifierOp string

const (
	// IncOp adds a signed delta to a numeric field.
	IncOp ModifierOp = "$inc"
	// PushOp appends a value to an array field.
	PushOp ModifierOp = "$push"
)

// Modifier is one field update of a mutation.
type Modifier struct {
	Op    ModifierOp
	Field string
	Value any
}

// Mutation is an ordered set of modifiers applied atomically to a single
// document.
type Mutation []Modifier

// Inc returns a mutation adding delta to the numeric field.
func Inc(field string, delta int64) Mutation {
	return Mutation{{Op: IncOp, Field: field, Value: delta}}
}

// Push returns a mutation appending value to the array field.
func Push(field string, value any) Mutation {
	return Mutation{{Op: PushOp, Field: field, Value: value}}
}

// And returns the mutation followed by other.
func (m Mutation) And(other Mutation) Mutation {
	result := make(Mutation, 0, len(m)+len(other))
	result = append(result, m...)
	return append(result, other...)
}

// String implements fmt.Stringer.
func (m Mutation) String() string {
	parts := make([]string, len(m))
	for i, mod := range m {
		parts[i] = fmt.Sprintf("%s: {%s: %v}", mod.Op, mod.Field, mod.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
