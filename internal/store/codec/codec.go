// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package codec holds the BSON registry used to encode and decode the
// shop entities. Decimal amounts are stored as BSON decimal128 values.
package codec

import (
	"bytes"
	"reflect"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})

	registry = newRegistry()
)

func newRegistry() *bson.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bson.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bson.ValueDecoderFunc(decodeDecimal))
	return reg
}

// Registry returns the registry knowing about every shop entity. It must
// be installed on any client reading or writing carts and products.
func Registry() *bson.Registry {
	return registry
}

// Marshal encodes v as a BSON document. Nil slices are written as empty
// arrays, so a cart inserted without items can be pushed onto.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := bson.NewEncoder(bson.NewDocumentWriter(&buf))
	enc.SetRegistry(registry)
	enc.NilSliceAsEmpty()
	if err := enc.Encode(v); err != nil {
		return nil, errors.Annotatef(err, "encoding %T", v)
	}
	return buf.Bytes(), nil
}

// BSONOptions returns the client encoding options matching Marshal.
func BSONOptions() *options.BSONOptions {
	return &options.BSONOptions{NilSliceAsEmpty: true}
}

// Unmarshal decodes the BSON document into the value pointed to by v.
func Unmarshal(data []byte, v any) error {
	dec := bson.NewDecoder(bson.NewDocumentReader(bytes.NewReader(data)))
	dec.SetRegistry(registry)
	if err := dec.Decode(v); err != nil {
		return errors.Annotatef(err, "decoding %T", v)
	}
	return nil
}

// Raw is an encoded document. It implements changestream.Document.
type Raw []byte

// Decode decodes the document into the value pointed to by v.
func (r Raw) Decode(v any) error {
	return Unmarshal(r, v)
}

// String implements fmt.Stringer.
func (r Raw) String() string {
	return bson.Raw(r).String()
}

func encodeDecimal(_ bson.EncodeContext, vw bson.ValueWriter, val reflect.Value) error {
	if val.Type() != decimalType {
		return errors.NotValidf("encoding %s as decimal", val.Type())
	}
	d := val.Interface().(decimal.Decimal)
	dec, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return errors.Annotatef(err, "encoding decimal %s", d)
	}
	return vw.WriteDecimal128(dec)
}

func decodeDecimal(_ bson.DecodeContext, vr bson.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return errors.NotValidf("decoding decimal into %s", val.Type())
	}

	var (
		result decimal.Decimal
		err    error
	)
	switch t := vr.Type(); t {
	case bson.TypeDecimal128:
		var d bson.Decimal128
		if d, err = vr.ReadDecimal128(); err == nil {
			result, err = decimal.NewFromString(d.String())
		}
	case bson.TypeString:
		var s string
		if s, err = vr.ReadString(); err == nil {
			result, err = decimal.NewFromString(s)
		}
	case bson.TypeDouble:
		var f float64
		if f, err = vr.ReadDouble(); err == nil {
			result = decimal.NewFromFloat(f)
		}
	case bson.TypeInt32:
		var i int32
		if i, err = vr.ReadInt32(); err == nil {
			result = decimal.NewFromInt32(i)
		}
	case bson.TypeInt64:
		var i int64
		if i, err = vr.ReadInt64(); err == nil {
			result = decimal.NewFromInt(i)
		}
	case bson.TypeNull:
		err = vr.ReadNull()
	default:
		return errors.NotValidf("decoding BSON %s into decimal", t)
	}
	if err != nil {
		return errors.Trace(err)
	}
	val.Set(reflect.ValueOf(result))
	return nil
}
