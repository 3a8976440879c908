// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package memstore

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/codec"
)

// document is a decoded BSON document. Nested documents are documents and
// arrays are []any.
type document = map[string]any

// toDocument encodes v with the shop registry and decodes it back into a
// generic document, so that stored values have the same types whatever
// the caller handed in.
func toDocument(v any) (document, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var d bson.D
	if err := codec.Unmarshal(data, &d); err != nil {
		return nil, errors.Trace(err)
	}
	return normalize(d).(document), nil
}

// toValue converts a single Go value the same way toDocument does.
func toValue(v any) (any, error) {
	doc, err := toDocument(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return doc["v"], nil
}

func normalize(v any) any {
	switch v := v.(type) {
	case bson.D:
		doc := make(document, len(v))
		for _, e := range v {
			doc[e.Key] = normalize(e.Value)
		}
		return doc
	case bson.M:
		doc := make(document, len(v))
		for k, e := range v {
			doc[k] = normalize(e)
		}
		return doc
	case document:
		doc := make(document, len(v))
		for k, e := range v {
			doc[k] = normalize(e)
		}
		return doc
	case bson.A:
		return normalizeSlice(v)
	case []any:
		return normalizeSlice(v)
	}
	return v
}

func normalizeSlice(v []any) []any {
	out := make([]any, len(v))
	for i, e := range v {
		out[i] = normalize(e)
	}
	return out
}

func copyDocument(doc document) document {
	if doc == nil {
		return nil
	}
	return normalize(doc).(document)
}

func encode(doc document) (codec.Raw, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := codec.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return codec.Raw(data), nil
}

func documentID(doc document) (string, bool) {
	id, ok := doc["_id"]
	if !ok {
		return "", false
	}
	return fmt.Sprint(id), true
}

// compileFilter converts every condition value the way documents are
// converted, so that equality holds between a Go value and its stored form.
func compileFilter(f store.Filter) (store.Filter, error) {
	compiled := make(store.Filter, len(f))
	for i, cond := range f {
		if cond.Field == "" {
			return nil, errors.NotValidf("filter condition without field")
		}
		compiled[i] = store.Condition{Field: cond.Field}
		if len(cond.Match) > 0 {
			match, err := compileFilter(cond.Match)
			if err != nil {
				return nil, errors.Trace(err)
			}
			compiled[i].Match = match
			continue
		}
		value, err := toValue(cond.Value)
		if err != nil {
			return nil, errors.Annotatef(err, "filter value for %q", cond.Field)
		}
		compiled[i].Value = value
	}
	return compiled, nil
}

// match reports whether doc satisfies the compiled filter. For every
// elemMatch condition it also returns the index of the matching element,
// keyed by array path, for the positional operator.
func match(doc document, f store.Filter) (map[string]int, bool) {
	positions := make(map[string]int)
	for _, cond := range f {
		value, found := lookup(doc, splitPath(cond.Field))
		if len(cond.Match) == 0 {
			if !found || !valuesEqual(value, cond.Value) {
				return nil, false
			}
			continue
		}
		elems, ok := value.([]any)
		if !found || !ok {
			return nil, false
		}
		index := -1
		for i, elem := range elems {
			sub, ok := elem.(document)
			if !ok {
				continue
			}
			if _, ok := match(sub, cond.Match); ok {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, false
		}
		positions[cond.Field] = index
	}
	return positions, true
}

// apply applies the mutation to doc in place.
func apply(doc document, m store.Mutation, positions map[string]int) error {
	if len(m) == 0 {
		return errors.NotValidf("empty mutation")
	}
	for _, mod := range m {
		path, err := resolvePositional(mod.Field, positions)
		if err != nil {
			return errors.Trace(err)
		}
		if path[0] == "_id" {
			return errors.NotValidf("mutation of immutable field _id")
		}
		current, found := lookup(doc, path)
		switch mod.Op {
		case store.IncOp:
			delta, ok := toInt64(mod.Value)
			if !ok {
				return errors.NotValidf("%s of %q by %T", mod.Op, mod.Field, mod.Value)
			}
			if !found {
				current = int64(0)
			}
			sum, err := addNumber(current, delta)
			if err != nil {
				return errors.Annotatef(err, "%s of %q", mod.Op, mod.Field)
			}
			if err := setPath(doc, path, sum); err != nil {
				return errors.Trace(err)
			}
		case store.PushOp:
			var elems []any
			if found {
				var ok bool
				if elems, ok = current.([]any); !ok {
					return errors.NotValidf("%s to non-array field %q", mod.Op, mod.Field)
				}
			}
			value, err := toValue(mod.Value)
			if err != nil {
				return errors.Trace(err)
			}
			if err := setPath(doc, path, append(elems, value)); err != nil {
				return errors.Trace(err)
			}
		default:
			return errors.NotSupportedf("modifier %q", mod.Op)
		}
	}
	return nil
}

func splitPath(field string) []string {
	return strings.Split(field, ".")
}

func resolvePositional(field string, positions map[string]int) ([]string, error) {
	path := splitPath(field)
	for i, seg := range path {
		if seg != store.PositionalOperator {
			continue
		}
		array := strings.Join(path[:i], ".")
		index, ok := positions[array]
		if !ok {
			return nil, errors.NotValidf("positional operator in %q without an elemMatch on %q", field, array)
		}
		path[i] = strconv.Itoa(index)
	}
	return path, nil
}

func lookup(v any, path []string) (any, bool) {
	if len(path) == 0 {
		return v, true
	}
	switch c := v.(type) {
	case document:
		next, ok := c[path[0]]
		if !ok {
			return nil, false
		}
		return lookup(next, path[1:])
	case []any:
		i, err := strconv.Atoi(path[0])
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return lookup(c[i], path[1:])
	}
	return nil, false
}

func setPath(v any, path []string, value any) error {
	switch c := v.(type) {
	case document:
		if len(path) == 1 {
			c[path[0]] = value
			return nil
		}
		next, ok := c[path[0]]
		if !ok {
			next = make(document)
			c[path[0]] = next
		}
		return setPath(next, path[1:], value)
	case []any:
		i, err := strconv.Atoi(path[0])
		if err != nil || i < 0 || i >= len(c) {
			return errors.NotValidf("array index %q", path[0])
		}
		if len(path) == 1 {
			c[i] = value
			return nil
		}
		return setPath(c[i], path[1:], value)
	}
	return errors.NotValidf("path through %T at %q", v, path[0])
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func addNumber(current any, delta int64) (any, error) {
	switch n := current.(type) {
	case int32:
		sum := int64(n) + delta
		if sum >= math.MinInt32 && sum <= math.MaxInt32 {
			return int32(sum), nil
		}
		return sum, nil
	case int64:
		return n + delta, nil
	case float64:
		return n + float64(delta), nil
	}
	return nil, errors.NotValidf("non-numeric value %T", current)
}

func valuesEqual(a, b any) bool {
	if x, ok := toInt64(a); ok {
		if y, ok := toInt64(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}
