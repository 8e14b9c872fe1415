// Package fhirdoc models a FHIR resource as a tagged sum of primitive,
// object, and array nodes (spec.md §9 "Dynamic typing & schemaless
// documents"), rather than as Go structs per resource type. The Row
// Indexer, Validator, and Search Compiler all operate on this sum so
// that the core never needs a generated struct per StructureDefinition.
package fhirdoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

// Value is a single node in a parsed document: exactly one of the Kind
// variants is populated, mirroring the primitive/object/array sum of
// spec.md §9.
type Value struct {
	kind   Kind
	b      bool
	num    decimal.Decimal
	str    string
	obj    *Object
	arr    []Value
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func String(s string) Value       { return Value{kind: KindString, str: s} }
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }
func NumberFromInt(i int64) Value { return Value{kind: KindNumber, num: decimal.NewFromInt(i)} }
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }
func ArrayValue(a []Value) Value  { return Value{kind: KindArray, arr: a} }

// AsBool, AsString, AsNumber, AsObject, AsArray return the underlying
// value and whether the Value is actually of that Kind.
func (v Value) AsBool() (bool, bool)               { return v.b, v.kind == KindBool }
func (v Value) AsString() (string, bool)           { return v.str, v.kind == KindString }
func (v Value) AsNumber() (decimal.Decimal, bool)  { return v.num, v.kind == KindNumber }
func (v Value) AsObject() (*Object, bool)          { return v.obj, v.kind == KindObject }
func (v Value) AsArray() ([]Value, bool)           { return v.arr, v.kind == KindArray }

// Field is a single ordered key/value pair of an Object.
type Field struct {
	Key   string
	Value Value
}

// Object is an ordered key→value map, preserving the JSON source's key
// order (spec.md §9: "object (ordered key→value map)"). Lookups are
// O(1) via an index; iteration order is preserved via fields.
type Object struct {
	fields []Field
	index  map[string]int
}

// NewObject creates an empty Object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set appends or replaces the value for key, preserving first-seen order.
func (o *Object) Set(key string, v Value) {
	if i, ok := o.index[key]; ok {
		o.fields[i].Value = v
		return
	}
	o.index[key] = len(o.fields)
	o.fields = append(o.fields, Field{Key: key, Value: v})
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	i, ok := o.index[key]
	if !ok {
		return Value{}, false
	}
	return o.fields[i].Value, true
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o.index[key]
	return ok
}

// Fields returns the ordered fields. Callers must not mutate the slice.
func (o *Object) Fields() []Field {
	if o == nil {
		return nil
	}
	return o.fields
}

// KeysWithPrefix returns the keys that start with prefix and are longer
// than it, in document order.
func (o *Object) KeysWithPrefix(prefix string) []string {
	var keys []string
	for _, f := range o.Fields() {
		if len(f.Key) > len(prefix) && f.Key[:len(prefix)] == prefix {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Document is a parsed resource: an Object guaranteed to carry a
// resourceType discriminator.
type Document struct {
	Root *Object
}

// ResourceType returns the document's resourceType discriminator.
func (d *Document) ResourceType() string {
	if d == nil || d.Root == nil {
		return ""
	}
	v, ok := d.Root.Get("resourceType")
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// ID returns the document's logical id, or "" if absent.
func (d *Document) ID() string {
	if d == nil || d.Root == nil {
		return ""
	}
	v, ok := d.Root.Get("id")
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// Parse decodes raw JSON into a Document, preserving object key order.
func Parse(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	obj, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("parse document: root must be a JSON object")
	}
	return &Document{Root: obj}, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("expected object key, got %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return ObjectValue(obj), nil
		case '[':
			var arr []Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return ArrayValue(arr), nil
		}
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(d), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unexpected token %v (%T)", tok, tok)
}

// MarshalJSON renders the document back to JSON, preserving field order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return ObjectValue(d.Root).MarshalJSON()
}

// MarshalJSON renders a Value to JSON, preserving Object field order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.num.String())
	case KindString:
		enc, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case KindArray:
		buf.WriteByte('[')
		for i, el := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range v.obj.Fields() {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyEnc, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(keyEnc)
			buf.WriteByte(':')
			if err := writeValue(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
