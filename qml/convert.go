package qml

import (
	"encoding"
	"fmt"
	"image/color"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/colornames"
)

// metaGoTypes is the Go representation of each builtin type, used for
// dynamic storage and for converting values assigned to it.
var metaGoTypes = map[MetaType]reflect.Type{
	MetaInt:        reflect.TypeOf(int(0)),
	MetaUInt:       reflect.TypeOf(uint(0)),
	MetaBool:       reflect.TypeOf(false),
	MetaFloat:      reflect.TypeOf(float64(0)),
	MetaDouble:     reflect.TypeOf(float64(0)),
	MetaString:     reflect.TypeOf(""),
	MetaStringList: reflect.TypeOf([]string(nil)),
	MetaByteArray:  reflect.TypeOf([]byte(nil)),
	MetaUrl:        urlGoType,
	MetaColor:      nrgbaGoType,
	MetaFont:       reflect.TypeOf(Font{}),
	MetaTime:       timeGoType,
	MetaDate:       timeGoType,
	MetaDateTime:   timeGoType,
	MetaPoint:      reflect.TypeOf(Point{}),
	MetaSize:       reflect.TypeOf(Size{}),
	MetaRect:       reflect.TypeOf(Rect{}),
	MetaVector2D:   reflect.TypeOf(Vector2D{}),
	MetaVector3D:   reflect.TypeOf(Vector3D{}),
	MetaVector4D:   reflect.TypeOf(Vector4D{}),
	MetaMatrix4x4:  matrixGoType,
	MetaQuaternion: reflect.TypeOf(Quaternion{}),
	MetaRealList:   reflect.TypeOf([]float64(nil)),
	MetaIntList:    reflect.TypeOf([]int(nil)),
	MetaBoolList:   reflect.TypeOf([]bool(nil)),
	MetaUrlList:    reflect.TypeOf([]*url.URL(nil)),
}

// propertyGoType returns the Go type values of p are stored as.
func propertyGoType(p *PropertyData) reflect.Type {
	if p.goType != nil {
		return p.goType
	}
	return metaGoTypes[p.Type]
}

// fitsInteger is false when the integral n is out of range for the integer
// type t, or for the elements of t if it is a slice.
func fitsInteger(t reflect.Type, n float64) bool {
	if t == nil {
		return true
	}
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return !reflect.Zero(t).OverflowInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return n >= 0 && !reflect.Zero(t).OverflowUint(uint64(n))
	}
	return true
}

// defaultValue is the initial value of a declared property.
func defaultValue(p *PropertyData) Value {
	switch p.Type {
	case MetaVar, MetaVariant, MetaInvalid:
		return Undefined()
	case MetaObject, MetaInterface:
		return Null()
	case MetaObjectList:
		return Opaque(&objectList{})
	case MetaUrl:
		return URL(&url.URL{})
	}
	if t := metaGoTypes[p.Type]; t != nil {
		return ValueOf(reflect.Zero(t).Interface())
	}
	return Undefined()
}

// expectedNames are the kinds named by "Invalid property assignment"
// errors for each builtin type.
var expectedNames = map[MetaType]string{
	MetaString:     "string",
	MetaStringList: "string or array of strings",
	MetaByteArray:  "string",
	MetaUrl:        "url",
	MetaUInt:       "unsigned int",
	MetaInt:        "int",
	MetaFloat:      "number",
	MetaDouble:     "number",
	MetaColor:      "color",
	MetaDate:       "date",
	MetaTime:       "time",
	MetaDateTime:   "datetime",
	MetaPoint:      "point",
	MetaSize:       "size",
	MetaRect:       "rect",
	MetaBool:       "boolean",
	MetaVector2D:   "2D vector",
	MetaVector3D:   "3D vector",
	MetaVector4D:   "4D vector",
	MetaQuaternion: "quaternion",
	MetaMatrix4x4:  "matrix4x4",
	MetaRealList:   "number or array of numbers",
	MetaIntList:    "int or array of ints",
	MetaBoolList:   "boolean or array of booleans",
	MetaUrlList:    "url or array of urls",
	MetaObject:     "object",
	MetaInterface:  "object",
}

// convertLiteral converts a literal binding to a value of p's type. The
// strict checks of each type apply; var and variant targets accept any
// literal.
func (e *Engine) convertLiteral(docURL string, p *PropertyData, b *BindingDecl) (Value, *Error) {
	fail := func() (Value, *Error) {
		return Undefined(), conversionError(docURL, b.Location, expectedNames[p.Type])
	}

	switch p.Type {
	case MetaVar, MetaVariant:
		switch b.Kind {
		case BindingNumber:
			return Number(b.Number), nil
		case BindingBoolean:
			return Bool(b.Bool), nil
		default:
			return String(b.String), nil
		}

	case MetaString:
		if b.Kind != BindingString {
			return fail()
		}
		return String(b.String), nil

	case MetaStringList:
		if b.Kind != BindingString {
			return fail()
		}
		return Opaque([]string{b.String}), nil

	case MetaByteArray:
		if b.Kind != BindingString {
			return fail()
		}
		return Opaque([]byte(b.String)), nil

	case MetaUrl, MetaUrlList:
		if b.Kind != BindingString {
			return fail()
		}
		u, err := e.resolveURL(docURL, b.String)
		if err != nil {
			return fail()
		}
		if p.Type == MetaUrlList {
			return Opaque([]*url.URL{u}), nil
		}
		return URL(u), nil

	case MetaUInt:
		n := b.Number
		if b.Kind != BindingNumber || n < 0 || n != math.Trunc(n) || n > math.MaxUint32 || !fitsInteger(propertyGoType(p), n) {
			return fail()
		}
		return Int(int64(n)), nil

	case MetaInt, MetaIntList:
		n := b.Number
		if b.Kind != BindingNumber || n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 || !fitsInteger(propertyGoType(p), n) {
			return fail()
		}
		if p.Type == MetaIntList {
			return Opaque([]int{int(n)}), nil
		}
		return Int(int64(n)), nil

	case MetaFloat, MetaDouble, MetaRealList:
		if b.Kind != BindingNumber {
			return fail()
		}
		if p.Type == MetaRealList {
			return Opaque([]float64{b.Number}), nil
		}
		return Double(b.Number), nil

	case MetaBool, MetaBoolList:
		if b.Kind != BindingBoolean {
			return fail()
		}
		if p.Type == MetaBoolList {
			return Opaque([]bool{b.Bool}), nil
		}
		return Bool(b.Bool), nil

	case MetaColor, MetaDate, MetaTime, MetaDateTime, MetaPoint, MetaSize, MetaRect,
		MetaVector2D, MetaVector3D, MetaVector4D, MetaQuaternion, MetaMatrix4x4:
		if b.Kind != BindingString {
			return fail()
		}
		v, ok := parseLiteralString(p.Type, b.String)
		if !ok {
			return fail()
		}
		return Opaque(v), nil

	case MetaObject, MetaInterface:
		return fail()

	case MetaObjectList:
		return Undefined(), newError(AssignmentError, docURL, b.Location, "Cannot assign primitives to lists")

	case MetaCustom:
		if t := p.ElemType; t != nil && b.Kind == BindingString {
			if conv, ok := e.opts.converters[t]; ok {
				v, err := conv(b.String)
				if err != nil {
					return Undefined(), newError(PropertyConversionError, docURL, b.Location,
						"Invalid property assignment: %s", err)
				}
				return ValueOf(v), nil
			}
			if reflect.PtrTo(t).Implements(textUnmarshalerType) {
				ptr := reflect.New(t)
				if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(b.String)); err != nil {
					return Undefined(), newError(PropertyConversionError, docURL, b.Location,
						"Invalid property assignment: %s", err)
				}
				return Opaque(ptr.Elem().Interface()), nil
			}
		}
	}

	name := p.Type.String()
	if p.ElemType != nil {
		name = p.ElemType.String()
	}
	return Undefined(), newError(PropertyConversionError, docURL, b.Location,
		"Invalid property assignment: unsupported type \"%s\"", name)
}

// resolveURL resolves a url literal against the document, or the engine's
// base URL for documents without one.
func (e *Engine) resolveURL(docURL, s string) (*url.URL, error) {
	if s == "" {
		return &url.URL{}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	base := e.opts.baseURL
	if docURL != "" {
		if b, err := url.Parse(docURL); err == nil {
			base = b
		}
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u, nil
}

// parseLiteralString parses the textual form of the string-derived types.
func parseLiteralString(t MetaType, s string) (interface{}, bool) {
	switch t {
	case MetaColor:
		return parseColor(s)
	case MetaDate:
		d, err := time.Parse("2006-01-02", s)
		return d, err == nil
	case MetaTime:
		for _, layout := range []string{"15:04:05.000", "15:04:05", "15:04"} {
			if d, err := time.Parse(layout, s); err == nil {
				return d, true
			}
		}
	case MetaDateTime:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
			if d, err := time.Parse(layout, s); err == nil {
				return d, true
			}
		}
	case MetaPoint:
		if f, ok := parseFloats(s, ",", 2); ok {
			return Point{f[0], f[1]}, true
		}
	case MetaSize:
		if f, ok := parseFloats(s, "x", 2); ok {
			return Size{f[0], f[1]}, true
		}
	case MetaRect:
		i := strings.LastIndexByte(s, ',')
		if i < 0 {
			return nil, false
		}
		xy, ok1 := parseFloats(s[:i], ",", 2)
		wh, ok2 := parseFloats(s[i+1:], "x", 2)
		if ok1 && ok2 {
			return Rect{xy[0], xy[1], wh[0], wh[1]}, true
		}
	case MetaVector2D:
		if f, ok := parseFloats(s, ",", 2); ok {
			return Vector2D{f[0], f[1]}, true
		}
	case MetaVector3D:
		if f, ok := parseFloats(s, ",", 3); ok {
			return Vector3D{f[0], f[1], f[2]}, true
		}
	case MetaVector4D:
		if f, ok := parseFloats(s, ",", 4); ok {
			return Vector4D{f[0], f[1], f[2], f[3]}, true
		}
	case MetaQuaternion:
		if f, ok := parseFloats(s, ",", 4); ok {
			return Quaternion{f[0], f[1], f[2], f[3]}, true
		}
	case MetaMatrix4x4:
		if f, ok := parseFloats(s, ",", 16); ok {
			var m Matrix4x4
			copy(m[:], f)
			return m, true
		}
	}
	return nil, false
}

func parseFloats(s, sep string, n int) ([]float64, bool) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// parseColor accepts "#RGB", "#RRGGBB", "#AARRGGBB" and SVG color names.
func parseColor(s string) (color.NRGBA, bool) {
	if s == "" {
		return color.NRGBA{}, false
	}
	if s[0] != '#' {
		name := strings.ToLower(s)
		if name == "transparent" {
			return color.NRGBA{}, true
		}
		c, ok := colornames.Map[name]
		if !ok {
			return color.NRGBA{}, false
		}
		return color.NRGBAModel.Convert(c).(color.NRGBA), true
	}

	hex := s[1:]
	var digits []uint8
	for i := 0; i < len(hex); i++ {
		d, ok := hexDigit(hex[i])
		if !ok {
			return color.NRGBA{}, false
		}
		digits = append(digits, d)
	}

	pair := func(i int) uint8 { return digits[i]<<4 | digits[i+1] }
	switch len(digits) {
	case 3:
		return color.NRGBA{R: digits[0] * 17, G: digits[1] * 17, B: digits[2] * 17, A: 255}, true
	case 6:
		return color.NRGBA{R: pair(0), G: pair(2), B: pair(4), A: 255}, true
	case 8:
		return color.NRGBA{A: pair(0), R: pair(2), G: pair(4), B: pair(6)}, true
	}
	return color.NRGBA{}, false
}

func hexDigit(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// toGoValue converts v for storage in a Go value of type t. mt is the
// property type, used to parse strings assigned to string-derived types.
func toGoValue(v Value, t reflect.Type, mt MetaType) (reflect.Value, error) {
	switch t {
	case valueGoType:
		return reflect.ValueOf(v), nil
	case emptyIfaceGoType:
		rv := reflect.New(t).Elem()
		x := v.Interface()
		if o, ok := x.(*Object); ok {
			x = o.native
		}
		if x != nil {
			rv.Set(reflect.ValueOf(x))
		}
		return rv, nil
	case urlGoType:
		switch v.Kind() {
		case URLKind:
			return reflect.ValueOf(v.u), nil
		case StringKind:
			u, err := url.Parse(v.s)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("Unable to assign %s to url: %s", v, err)
			}
			return reflect.ValueOf(u), nil
		case NullKind:
			return reflect.Zero(t), nil
		}
	}

	if v.IsUndefined() {
		return reflect.Value{}, fmt.Errorf("Unable to assign [undefined] to %s", mt)
	}

	if v.Kind() == ObjectKind || v.IsNull() {
		if t.Kind() != reflect.Ptr && t.Kind() != reflect.Interface {
			return reflect.Value{}, fmt.Errorf("Unable to assign %s to %s", v, mt)
		}
		if v.IsNull() {
			return reflect.Zero(t), nil
		}
		if rv, ok := nativeAs(v.Object(), t); ok {
			return rv, nil
		}
		return reflect.Value{}, fmt.Errorf("Unable to assign %s to %s", v, t)
	}

	if v.Kind() == OpaqueKind && v.opaque != nil {
		rv := reflect.ValueOf(v.opaque)
		if c, ok := v.opaque.(color.Color); ok {
			switch t {
			case nrgbaGoType:
				return reflect.ValueOf(color.NRGBAModel.Convert(c)), nil
			case rgbaGoType:
				return reflect.ValueOf(color.RGBAModel.Convert(c)), nil
			}
		}
		if rv.Type().AssignableTo(t) {
			return rv, nil
		}
		if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) {
			return rv.Convert(t), nil
		}
	}

	if v.Kind() == StringKind {
		if parsed, ok := parseLiteralString(mt, v.s); ok {
			rv := reflect.ValueOf(parsed)
			if rv.Type().AssignableTo(t) {
				return rv, nil
			}
		}
		if reflect.PtrTo(t).Implements(textUnmarshalerType) && t.Kind() != reflect.String {
			ptr := reflect.New(t)
			if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.s)); err != nil {
				return reflect.Value{}, err
			}
			return ptr.Elem(), nil
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(v.ToBool()).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, ok := v.ToInt(); ok && (v.IsNumber() || v.Kind() == BoolKind || v.Kind() == StringKind) {
			if reflect.Zero(t).OverflowInt(n) {
				return reflect.Value{}, errOutOfRange(v, t)
			}
			return reflect.ValueOf(n).Convert(t), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, ok := v.ToInt(); ok && n >= 0 && (v.IsNumber() || v.Kind() == StringKind) {
			if reflect.Zero(t).OverflowUint(uint64(n)) {
				return reflect.Value{}, errOutOfRange(v, t)
			}
			return reflect.ValueOf(uint64(n)).Convert(t), nil
		}
	case reflect.Float32, reflect.Float64:
		if f, ok := v.ToNumber(); ok && v.Kind() != OpaqueKind {
			if reflect.Zero(t).OverflowFloat(f) {
				return reflect.Value{}, errOutOfRange(v, t)
			}
			return reflect.ValueOf(f).Convert(t), nil
		}
	case reflect.String:
		if v.Kind() != OpaqueKind || v.opaque == nil {
			return reflect.ValueOf(v.ToString()).Convert(t), nil
		}
		if s, ok := v.opaque.(fmt.Stringer); ok {
			return reflect.ValueOf(s.String()).Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("Unable to assign %s to %s", v.Kind(), mt)
}

func errOutOfRange(v Value, t reflect.Type) error {
	return fmt.Errorf("Unable to assign %s to %s: value out of range", v, t)
}

// coerceDynamic converts v to the type of a declared property.
func coerceDynamic(p *PropertyData, v Value) (Value, error) {
	switch p.Type {
	case MetaVar, MetaVariant:
		return v, nil
	case MetaObject, MetaInterface:
		if v.IsNullish() {
			return Null(), nil
		}
		if v.Kind() != ObjectKind {
			return Undefined(), fmt.Errorf("Unable to assign %s to %s", v.Kind(), p.Type)
		}
		if !objectAssignable(v.Object(), p) {
			return Undefined(), fmt.Errorf("Unable to assign %s to %s", v.Object(), p.Name)
		}
		return v, nil
	}

	t := metaGoTypes[p.Type]
	if t == nil {
		return Undefined(), fmt.Errorf("property '%s' of type %s cannot be written", p.Name, p.Type)
	}
	rv, err := toGoValue(v, t, p.Type)
	if err != nil {
		return Undefined(), err
	}
	return ValueOf(rv.Interface()), nil
}

// composeValueType returns cur with field sub replaced by v.
func composeValueType(cur Value, sub int, v Value) (Value, error) {
	rv := reflect.ValueOf(cur.Opaque())
	if !rv.IsValid() || rv.Kind() != reflect.Struct || sub >= rv.NumField() {
		return Undefined(), fmt.Errorf("cannot assign field %d of %s", sub, cur)
	}
	cp := reflect.New(rv.Type()).Elem()
	cp.Set(rv)
	f := cp.Field(sub)
	fv, err := toGoValue(v, f.Type(), MetaInvalid)
	if err != nil {
		return Undefined(), err
	}
	f.Set(fv)
	return Opaque(cp.Interface()), nil
}

// objectAssignable reports whether o can be stored in an object-typed
// property p: o must derive from p's type.
func objectAssignable(o *Object, p *PropertyData) bool {
	if p.ElemCache != nil && !o.cache.Inherits(p.ElemCache) {
		return false
	}
	if p.ElemType != nil {
		if _, ok := nativeAs(o, p.ElemType); !ok {
			return false
		}
	}
	return true
}
