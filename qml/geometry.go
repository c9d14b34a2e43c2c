package qml

import (
	"fmt"
	"reflect"
	"unicode"
)

// Value types. Group bindings such as "pos.x: 10" address their fields by
// their lower-cased names.

type Point struct{ X, Y float64 }

type Size struct{ Width, Height float64 }

type Rect struct{ X, Y, Width, Height float64 }

type Vector2D struct{ X, Y float64 }

type Vector3D struct{ X, Y, Z float64 }

type Vector4D struct{ X, Y, Z, W float64 }

type Quaternion struct{ Scalar, X, Y, Z float64 }

type Matrix4x4 [16]float64

type Font struct {
	Family    string
	PointSize float64
	PixelSize int
	Bold      bool
	Italic    bool
	Underline bool
}

func (p Point) String() string { return fmt.Sprintf("%g,%g", p.X, p.Y) }
func (s Size) String() string  { return fmt.Sprintf("%gx%g", s.Width, s.Height) }
func (r Rect) String() string {
	return fmt.Sprintf("%g,%g,%gx%g", r.X, r.Y, r.Width, r.Height)
}
func (v Vector3D) String() string { return fmt.Sprintf("%g,%g,%g", v.X, v.Y, v.Z) }

var valueTypes = map[reflect.Type]bool{
	reflect.TypeOf(Point{}):      true,
	reflect.TypeOf(Size{}):       true,
	reflect.TypeOf(Rect{}):       true,
	reflect.TypeOf(Vector2D{}):   true,
	reflect.TypeOf(Vector3D{}):   true,
	reflect.TypeOf(Vector4D{}):   true,
	reflect.TypeOf(Quaternion{}): true,
	reflect.TypeOf(Font{}):       true,
}

func isValueType(t reflect.Type) bool {
	return t != nil && valueTypes[t]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// valueTypeField returns the field index of a value type addressed by its
// lower-cased name.
func valueTypeField(t reflect.Type, name string) (int, bool) {
	if t == nil || t.Kind() != reflect.Struct {
		return -1, false
	}
	for i := 0; i < t.NumField(); i++ {
		if lowerFirst(t.Field(i).Name) == name {
			return i, true
		}
	}
	return -1, false
}
