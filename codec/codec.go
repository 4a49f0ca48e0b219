// Package codec serializes values to and from a JSON document tree
// without runtime reflection. Each serializable type composes its codec
// once from the combinators here; aggregates declare their field list a
// single time and get both directions from it.
//
// The document tree uses the types encoding/json produces for an `any`
// target: nil, bool, float64, string, []any, and map[string]any, so a
// tree round-trips through both JSON text and CBOR bytes.
package codec

import (
	"bytes"
	"fmt"
	"math"
	"sort"
)

// Value is one node of the document tree.
type Value = any

// A Codec encodes values of T into the document tree and decodes them
// back. The zero Codec is not usable; build one with the combinators.
type Codec[T any] struct {
	enc func(T) Value
	dec func(*T, Value) error
}

// Encode renders v as a document tree.
func (c Codec[T]) Encode(v T) Value { return c.enc(v) }

// Decode replaces *dst with the value raw describes. On error *dst is
// left exactly as it was: decoding stages into a fresh value and only
// assigns on success.
func (c Codec[T]) Decode(dst *T, raw Value) error {
	var staged T
	if err := c.dec(&staged, raw); err != nil {
		return err
	}
	*dst = staged
	return nil
}

// PayloadError reports a document shape incompatible with the target
// type.
type PayloadError struct {
	Want string
	Got  Value
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed payload: want %s, got %T", e.Want, e.Got)
}

type number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 |
		~float32 | ~float64
}

// Number is the codec for integer and floating scalars. JSON carries
// them as float64; CBOR hands integers back as int64 or uint64, which
// decode accepts as well.
func Number[T number]() Codec[T] {
	return Codec[T]{
		enc: func(v T) Value { return float64(v) },
		dec: func(dst *T, raw Value) error {
			switch n := raw.(type) {
			case float64:
				*dst = T(n)
			case int64:
				*dst = T(n)
			case uint64:
				*dst = T(n)
			default:
				return &PayloadError{Want: "number", Got: raw}
			}
			return nil
		},
	}
}

func Bool() Codec[bool] {
	return Codec[bool]{
		enc: func(v bool) Value { return v },
		dec: func(dst *bool, raw Value) error {
			b, ok := raw.(bool)
			if !ok {
				return &PayloadError{Want: "bool", Got: raw}
			}
			*dst = b
			return nil
		},
	}
}

func String() Codec[string] {
	return Codec[string]{
		enc: func(v string) Value { return v },
		dec: func(dst *string, raw Value) error {
			s, ok := raw.(string)
			if !ok {
				return &PayloadError{Want: "string", Got: raw}
			}
			*dst = s
			return nil
		},
	}
}

// Ptr derives the optional form of elem: a nil pointer encodes as null
// and null decodes to a nil pointer.
func Ptr[T any](elem Codec[T]) Codec[*T] {
	return Codec[*T]{
		enc: func(v *T) Value {
			if v == nil {
				return nil
			}
			return elem.enc(*v)
		},
		dec: func(dst **T, raw Value) error {
			if raw == nil {
				*dst = nil
				return nil
			}
			v := new(T)
			if err := elem.dec(v, raw); err != nil {
				return err
			}
			*dst = v
			return nil
		},
	}
}

// Slice derives the codec for []T as a JSON array. An empty array
// decodes to a non-nil empty slice; a nil slice encodes as [].
func Slice[T any](elem Codec[T]) Codec[[]T] {
	return Codec[[]T]{
		enc: func(v []T) Value {
			out := make([]Value, len(v))
			for i := range v {
				out[i] = elem.enc(v[i])
			}
			return out
		},
		dec: func(dst *[]T, raw Value) error {
			arr, ok := raw.([]Value)
			if !ok {
				return &PayloadError{Want: "array", Got: raw}
			}
			out := make([]T, len(arr))
			for i := range arr {
				if err := elem.dec(&out[i], arr[i]); err != nil {
					return fmt.Errorf("index %d: %w", i, err)
				}
			}
			*dst = out
			return nil
		},
	}
}

// Map derives the codec for string-keyed maps as a JSON object.
func Map[V any](elem Codec[V]) Codec[map[string]V] {
	return Codec[map[string]V]{
		enc: func(v map[string]V) Value {
			out := make(map[string]Value, len(v))
			for k, e := range v {
				out[k] = elem.enc(e)
			}
			return out
		},
		dec: func(dst *map[string]V, raw Value) error {
			obj, ok := raw.(map[string]Value)
			if !ok {
				return &PayloadError{Want: "object", Got: raw}
			}
			out := make(map[string]V, len(obj))
			for k, e := range obj {
				var v V
				if err := elem.dec(&v, e); err != nil {
					return fmt.Errorf("key %q: %w", k, err)
				}
				out[k] = v
			}
			*dst = out
			return nil
		},
	}
}

// KeyedMap derives the codec for maps whose keys are not strings,
// encoded as an array of [key, value] pairs sorted by the key's
// encoding so output is deterministic.
func KeyedMap[K comparable, V any](key Codec[K], elem Codec[V]) Codec[map[K]V] {
	return Codec[map[K]V]{
		enc: func(v map[K]V) Value {
			type pair struct {
				sortKey []byte
				node    Value
			}
			pairs := make([]pair, 0, len(v))
			for k, e := range v {
				ek := key.enc(k)
				// A key encoding the JSON writer rejects still needs a
				// total order; its Go rendering is deterministic.
				b, err := marshalJSONValue(ek)
				if err != nil {
					b = []byte(fmt.Sprint(ek))
				}
				pairs = append(pairs, pair{sortKey: b, node: []Value{ek, elem.enc(e)}})
			}
			sort.Slice(pairs, func(i, j int) bool {
				return bytes.Compare(pairs[i].sortKey, pairs[j].sortKey) < 0
			})
			out := make([]Value, len(pairs))
			for i, p := range pairs {
				out[i] = p.node
			}
			return out
		},
		dec: func(dst *map[K]V, raw Value) error {
			arr, ok := raw.([]Value)
			if !ok {
				return &PayloadError{Want: "array of pairs", Got: raw}
			}
			out := make(map[K]V, len(arr))
			for i, p := range arr {
				pair, ok := p.([]Value)
				if !ok || len(pair) != 2 {
					return &PayloadError{Want: "pair", Got: p}
				}
				var k K
				if err := key.dec(&k, pair[0]); err != nil {
					return fmt.Errorf("pair %d key: %w", i, err)
				}
				var v V
				if err := elem.dec(&v, pair[1]); err != nil {
					return fmt.Errorf("pair %d value: %w", i, err)
				}
				out[k] = v
			}
			*dst = out
			return nil
		},
	}
}

// Convert derives a codec for T from the codec of a wire representation
// U. from may reject values that have no T form.
func Convert[T, U any](wire Codec[U], to func(T) U, from func(U) (T, error)) Codec[T] {
	return Codec[T]{
		enc: func(v T) Value { return wire.enc(to(v)) },
		dec: func(dst *T, raw Value) error {
			var u U
			if err := wire.dec(&u, raw); err != nil {
				return err
			}
			v, err := from(u)
			if err != nil {
				return err
			}
			*dst = v
			return nil
		},
	}
}

// A Field binds one field of an aggregate T to its name and codec.
// Construct with F.
type Field[T any] struct {
	name string
	enc  func(*T) Value
	dec  func(*T, Value) error
}

// F declares a field: its object key, an accessor returning a pointer
// to the field within T, and the field's codec.
func F[T, V any](name string, access func(*T) *V, c Codec[V]) Field[T] {
	return Field[T]{
		name: name,
		enc:  func(t *T) Value { return c.enc(*access(t)) },
		dec:  func(t *T, raw Value) error { return c.dec(access(t), raw) },
	}
}

// Struct derives the codec for an aggregate from its declared field
// list. Every declared field must be present when decoding.
func Struct[T any](fields ...Field[T]) Codec[T] {
	return Codec[T]{
		enc: func(v T) Value {
			out := make(map[string]Value, len(fields))
			for _, f := range fields {
				out[f.name] = f.enc(&v)
			}
			return out
		},
		dec: func(dst *T, raw Value) error {
			obj, ok := raw.(map[string]Value)
			if !ok {
				return &PayloadError{Want: "object", Got: raw}
			}
			for _, f := range fields {
				fv, ok := obj[f.name]
				if !ok {
					return fmt.Errorf("field %q: %w", f.name, &PayloadError{Want: "present field", Got: nil})
				}
				if err := f.dec(dst, fv); err != nil {
					return fmt.Errorf("field %q: %w", f.name, err)
				}
			}
			return nil
		},
	}
}

// Uint64Hex carries a uint64 as a fixed-width hex string. JSON numbers
// lose integer precision past 2^53, which 64-bit hashes exceed.
func Uint64Hex() Codec[uint64] {
	return Convert(String(),
		func(v uint64) string { return fmt.Sprintf("%016x", v) },
		func(s string) (uint64, error) {
			var v uint64
			if _, err := fmt.Sscanf(s, "%x", &v); err != nil || len(s) != 16 {
				return 0, &PayloadError{Want: "16-digit hex string", Got: s}
			}
			return v, nil
		})
}

// Rune carries rune values, rejecting encodings outside the code-point
// range.
func Rune() Codec[rune] {
	return Convert(Number[int64](),
		func(v rune) int64 { return int64(v) },
		func(n int64) (rune, error) {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return 0, &PayloadError{Want: "code point", Got: n}
			}
			return rune(n), nil
		})
}
