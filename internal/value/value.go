// Package value implements the tagged scalar/composite value system that flows
// through the schema graph, the pipeline engine, and the object runtime.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindDate
	KindDateTime
	KindEnum
	KindVec
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindEnum:
		return "enum"
	case KindVec:
		return "vec"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Objecter is the minimal view of a live object a Value needs in order to wrap
// one as a back-reference without creating an import cycle with package object.
type Objecter interface {
	ToJSON() (map[string]any, error)
}

// Value is a tagged variant over null, the numeric/string/date scalars, an
// enum variant, a homogeneous vector, a string-keyed map, and a live Object
// back-reference. Nullability is a first-class tag: there is no sentinel.
type Value struct {
	kind    Kind
	b       bool
	i32     int32
	i64     int64
	f32     float32
	f64     float64
	dec     decimal.Decimal
	str     string
	date    time.Time
	dt      time.Time
	enumTag string
	vec     []Value
	m       map[string]Value
	obj     Objecter
}

func Null() Value                      { return Value{kind: KindNull} }
func Bool(b bool) Value                 { return Value{kind: KindBool, b: b} }
func Int32(i int32) Value               { return Value{kind: KindInt32, i32: i} }
func Int64(i int64) Value               { return Value{kind: KindInt64, i64: i} }
func Float32(f float32) Value           { return Value{kind: KindFloat32, f32: f} }
func Float64(f float64) Value           { return Value{kind: KindFloat64, f64: f} }
func Decimal(d decimal.Decimal) Value   { return Value{kind: KindDecimal, dec: d} }
func String(s string) Value             { return Value{kind: KindString, str: s} }
func Date(t time.Time) Value            { return Value{kind: KindDate, date: t} }
func DateTime(t time.Time) Value        { return Value{kind: KindDateTime, dt: t} }
func Enum(tag string) Value             { return Value{kind: KindEnum, enumTag: tag} }
func Vec(items []Value) Value           { return Value{kind: KindVec, vec: items} }
func Map(m map[string]Value) Value      { return Value{kind: KindMap, m: m} }
func Object(o Objecter) Value           { return Value{kind: KindObject, obj: o} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int32() int32    { return v.i32 }
func (v Value) Int64() int64    { return v.i64 }
func (v Value) Float32() float32 { return v.f32 }
func (v Value) Float64() float64 { return v.f64 }
func (v Value) Decimal() decimal.Decimal { return v.dec }
func (v Value) String() string  { return v.str }
func (v Value) Date() time.Time { return v.date }
func (v Value) DateTime() time.Time { return v.dt }
func (v Value) EnumTag() string { return v.enumTag }
func (v Value) Vec() []Value    { return v.vec }
func (v Value) Map() map[string]Value { return v.m }
func (v Value) Obj() Objecter    { return v.obj }

// Equal implements the structural equality invariant from the data model:
// two Values are equal iff same kind and same content, recursively for
// composites. Objects compare by identity of their underlying pointer.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt32:
		return a.i32 == b.i32
	case KindInt64:
		return a.i64 == b.i64
	case KindFloat32:
		return a.f32 == b.f32
	case KindFloat64:
		return a.f64 == b.f64
	case KindDecimal:
		return a.dec.Equal(b.dec)
	case KindString:
		return a.str == b.str
	case KindDate:
		return a.date.Equal(b.date)
	case KindDateTime:
		return a.dt.Equal(b.dt)
	case KindEnum:
		return a.enumTag == b.enumTag
	case KindVec:
		if len(a.vec) != len(b.vec) {
			return false
		}
		for i := range a.vec {
			if !Equal(a.vec[i], b.vec[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindObject:
		return a.obj == b.obj
	default:
		return false
	}
}

// Less provides a total order used by orderBy evaluation in package query.
// Only scalar kinds are ordered; composites and objects are incomparable and
// always report false both ways (callers must not orderBy such fields).
func Less(a, b Value) bool {
	switch a.kind {
	case KindInt32:
		return a.i32 < b.i32
	case KindInt64:
		return a.i64 < b.i64
	case KindFloat32:
		return a.f32 < b.f32
	case KindFloat64:
		return a.f64 < b.f64
	case KindDecimal:
		return a.dec.LessThan(b.dec)
	case KindString, KindEnum:
		return a.str+a.enumTag < b.str+b.enumTag
	case KindDate:
		return a.date.Before(b.date)
	case KindDateTime:
		return a.dt.Before(b.dt)
	default:
		return false
	}
}

// MarshalJSON renders a Value the way to_json serializes an output field.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt32:
		return json.Marshal(v.i32)
	case KindInt64:
		return json.Marshal(v.i64)
	case KindFloat32:
		return json.Marshal(v.f32)
	case KindFloat64:
		return json.Marshal(v.f64)
	case KindDecimal:
		return json.Marshal(v.dec.String())
	case KindString, KindEnum:
		if v.kind == KindEnum {
			return json.Marshal(v.enumTag)
		}
		return json.Marshal(v.str)
	case KindDate:
		return json.Marshal(v.date.Format("2006-01-02"))
	case KindDateTime:
		return json.Marshal(v.dt.Format(time.RFC3339Nano))
	case KindVec:
		return json.Marshal(v.vec)
	case KindMap:
		return json.Marshal(v.m)
	case KindObject:
		j, err := v.obj.ToJSON()
		if err != nil {
			return nil, err
		}
		return json.Marshal(j)
	default:
		return nil, fmt.Errorf("value: cannot marshal kind %s", v.kind)
	}
}

// FromJSON coerces a decoded JSON scalar/composite (as produced by
// encoding/json's default map[string]any decoding) into a Value of the
// requested Kind. This is the coercion half of the input decoder; it
// performs no schema-level validation beyond a type match.
func FromJSON(raw any, kind Kind) (Value, error) {
	if raw == nil {
		return Null(), nil
	}
	switch kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("value: expected bool, got %T", raw)
		}
		return Bool(b), nil
	case KindInt32:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("value: expected int32, got %T", raw)
		}
		return Int32(int32(f)), nil
	case KindInt64:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("value: expected int64, got %T", raw)
		}
		return Int64(int64(f)), nil
	case KindFloat32:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("value: expected float32, got %T", raw)
		}
		return Float32(float32(f)), nil
	case KindFloat64:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("value: expected float64, got %T", raw)
		}
		return Float64(f), nil
	case KindDecimal:
		switch r := raw.(type) {
		case string:
			d, err := decimal.NewFromString(r)
			if err != nil {
				return Value{}, fmt.Errorf("value: invalid decimal %q: %w", r, err)
			}
			return Decimal(d), nil
		case float64:
			return Decimal(decimal.NewFromFloat(r)), nil
		default:
			return Value{}, fmt.Errorf("value: expected decimal, got %T", raw)
		}
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("value: expected string, got %T", raw)
		}
		return String(s), nil
	case KindDate:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("value: expected date string, got %T", raw)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return Value{}, fmt.Errorf("value: invalid date %q: %w", s, err)
		}
		return Date(t), nil
	case KindDateTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("value: expected datetime string, got %T", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("value: invalid datetime %q: %w", s, err)
		}
		return DateTime(t.UTC()), nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("value: expected enum string, got %T", raw)
		}
		return Enum(s), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported coercion target kind %s", kind)
	}
}

// SortKeys returns a map's keys sorted, used anywhere a deterministic
// iteration order over a Value map is required (aggregate/groupBy output).
func SortKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
