// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongostore

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/juju/shopstream/internal/store"
)

// FilterDocument renders the filter as a query document.
func FilterDocument(f store.Filter) bson.D {
	doc := bson.D{}
	for _, cond := range f {
		if len(cond.Match) > 0 {
			doc = append(doc, bson.E{
				Key:   cond.Field,
				Value: bson.D{{Key: "$elemMatch", Value: FilterDocument(cond.Match)}},
			})
			continue
		}
		doc = append(doc, bson.E{Key: cond.Field, Value: cond.Value})
	}
	return doc
}

// MutationDocument renders the mutation as an update document, grouping
// modifiers by operator in the order the operators first appear.
func MutationDocument(m store.Mutation) bson.D {
	var (
		doc   bson.D
		index = make(map[store.ModifierOp]int)
	)
	for _, mod := range m {
		i, ok := index[mod.Op]
		if !ok {
			i = len(doc)
			index[mod.Op] = i
			doc = append(doc, bson.E{Key: string(mod.Op), Value: bson.D{}})
		}
		fields := doc[i].Value.(bson.D)
		doc[i].Value = append(fields, bson.E{Key: mod.Field, Value: mod.Value})
	}
	return doc
}
