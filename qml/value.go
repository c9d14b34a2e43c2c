package qml

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
)

// ValueKind is the tag of a dynamic Value.
type ValueKind uint8

const (
	UndefinedKind ValueKind = iota
	NullKind
	IntKind
	DoubleKind
	BoolKind
	StringKind
	URLKind
	ObjectKind
	// OpaqueKind holds any other Go value, such as a color, date or
	// geometry value.
	OpaqueKind
)

func (k ValueKind) String() string {
	switch k {
	case UndefinedKind:
		return "undefined"
	case NullKind:
		return "null"
	case IntKind:
		return "int"
	case DoubleKind:
		return "double"
	case BoolKind:
		return "bool"
	case StringKind:
		return "string"
	case URLKind:
		return "url"
	case ObjectKind:
		return "object"
	default:
		return "opaque"
	}
}

// Value is the dynamically typed value exchanged with expressions and held
// by var properties. The zero Value is undefined.
type Value struct {
	kind   ValueKind
	i      int64
	f      float64
	s      string
	u      *url.URL
	obj    *Object
	opaque interface{}
}

func Undefined() Value           { return Value{} }
func Null() Value                { return Value{kind: NullKind} }
func Int(i int64) Value          { return Value{kind: IntKind, i: i} }
func Double(f float64) Value     { return Value{kind: DoubleKind, f: f} }
func Bool(b bool) Value          { return Value{kind: BoolKind, i: boolInt(b)} }
func String(s string) Value      { return Value{kind: StringKind, s: s} }
func URL(u *url.URL) Value       { return Value{kind: URLKind, u: u} }
func Opaque(v interface{}) Value { return Value{kind: OpaqueKind, opaque: v} }

// ObjectValue references o. A nil o is null.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: ObjectKind, obj: o}
}

// Number returns an Int for integral values that fit, otherwise a Double.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return Int(int64(f))
	}
	return Double(f)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ValueOf boxes a Go value.
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case *Object:
		return ObjectValue(x)
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Int(int64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return Int(int64(x))
	case float32:
		return Double(float64(x))
	case float64:
		return Double(x)
	case *url.URL:
		if x == nil {
			return Null()
		}
		return URL(x)
	case url.URL:
		return URL(&x)
	}

	if is, q := QObjectFor(v); is {
		if q == nil {
			return Null()
		}
		return ObjectValue(q.(*Object))
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return Null()
	}
	return Opaque(v)
}

func (v Value) Kind() ValueKind     { return v.kind }
func (v Value) IsUndefined() bool   { return v.kind == UndefinedKind }
func (v Value) IsNull() bool        { return v.kind == NullKind }
func (v Value) IsNullish() bool     { return v.kind == UndefinedKind || v.kind == NullKind }
func (v Value) IsNumber() bool      { return v.kind == IntKind || v.kind == DoubleKind }
func (v Value) Object() *Object     { return v.obj }
func (v Value) Opaque() interface{} { return v.opaque }

// Interface unboxes the value into a plain Go value.
func (v Value) Interface() interface{} {
	switch v.kind {
	case IntKind:
		return v.i
	case DoubleKind:
		return v.f
	case BoolKind:
		return v.i != 0
	case StringKind:
		return v.s
	case URLKind:
		return v.u
	case ObjectKind:
		return v.obj
	case OpaqueKind:
		return v.opaque
	default:
		return nil
	}
}

// ToNumber converts with script semantics; ok is false if the result is NaN.
func (v Value) ToNumber() (float64, bool) {
	switch v.kind {
	case IntKind:
		return float64(v.i), true
	case DoubleKind:
		return v.f, !math.IsNaN(v.f)
	case BoolKind:
		return float64(v.i), true
	case NullKind:
		return 0, true
	case StringKind:
		if v.s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(v.s, 64)
		return f, err == nil
	default:
		return math.NaN(), false
	}
}

// ToInt truncates the numeric value of v towards zero.
func (v Value) ToInt() (int64, bool) {
	if v.kind == IntKind {
		return v.i, true
	}
	f, ok := v.ToNumber()
	if !ok || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func (v Value) ToBool() bool {
	switch v.kind {
	case IntKind, BoolKind:
		return v.i != 0
	case DoubleKind:
		return v.f != 0 && !math.IsNaN(v.f)
	case StringKind:
		return v.s != ""
	case URLKind:
		return v.u != nil && v.u.String() != ""
	case ObjectKind, OpaqueKind:
		return true
	default:
		return false
	}
}

func (v Value) ToString() string {
	switch v.kind {
	case UndefinedKind:
		return "undefined"
	case NullKind:
		return "null"
	case IntKind:
		return strconv.FormatInt(v.i, 10)
	case DoubleKind:
		return formatNumber(v.f)
	case BoolKind:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case StringKind:
		return v.s
	case URLKind:
		return v.u.String()
	case ObjectKind:
		return v.obj.String()
	default:
		if s, ok := v.opaque.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(v.opaque)
	}
}

func (v Value) String() string {
	if v.kind == StringKind {
		return strconv.Quote(v.s)
	}
	return v.ToString()
}

// Equal is strict equality; numbers compare by value across Int and Double.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		a, _ := v.ToNumber()
		b, _ := o.ToNumber()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case UndefinedKind, NullKind:
		return true
	case BoolKind:
		return v.i == o.i
	case StringKind:
		return v.s == o.s
	case URLKind:
		return v.u.String() == o.u.String()
	case ObjectKind:
		return v.obj == o.obj
	default:
		return reflect.DeepEqual(v.opaque, o.opaque)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
