package qml

import (
	"encoding/json"
	"fmt"
	"io"
)

// Location is a line and column in the source document, both 1-based.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PropertyType is the literal type tag of a property declared in a document.
type PropertyType int

// The order of the builtin tags up to Quaternion is fixed; it indexes the
// builtin type table in cachebuilder.go.
const (
	TypeVar PropertyType = iota
	TypeVariant
	TypeInt
	TypeBool
	TypeReal
	TypeString
	TypeUrl
	TypeColor
	TypeFont
	TypeTime
	TypeDate
	TypeDateTime
	TypeRect
	TypePoint
	TypeSize
	TypeVector2D
	TypeVector3D
	TypeVector4D
	TypeMatrix4x4
	TypeQuaternion
	TypeAlias
	TypeCustom
	TypeCustomList
)

var propertyTypeNames = map[string]PropertyType{
	"var":        TypeVar,
	"variant":    TypeVariant,
	"int":        TypeInt,
	"bool":       TypeBool,
	"real":       TypeReal,
	"double":     TypeReal,
	"string":     TypeString,
	"url":        TypeUrl,
	"color":      TypeColor,
	"font":       TypeFont,
	"time":       TypeTime,
	"date":       TypeDate,
	"datetime":   TypeDateTime,
	"rect":       TypeRect,
	"point":      TypePoint,
	"size":       TypeSize,
	"vector2d":   TypeVector2D,
	"vector3d":   TypeVector3D,
	"vector4d":   TypeVector4D,
	"matrix4x4":  TypeMatrix4x4,
	"quaternion": TypeQuaternion,
	"alias":      TypeAlias,
	"custom":     TypeCustom,
	"list":       TypeCustomList,
}

func (t PropertyType) String() string {
	for name, v := range propertyTypeNames {
		if v == t && name != "double" {
			return name
		}
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

func (t PropertyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PropertyType) UnmarshalText(text []byte) error {
	v, ok := propertyTypeNames[string(text)]
	if !ok {
		return fmt.Errorf("unknown property type '%s'", text)
	}
	*t = v
	return nil
}

// BindingKind says what a BindingDecl assigns.
type BindingKind int

const (
	BindingNumber BindingKind = iota
	BindingBoolean
	BindingString
	BindingScript
	BindingObject
	BindingAttachedProperty
	BindingGroupProperty
)

var bindingKindNames = []string{"number", "boolean", "string", "script", "object", "attached", "group"}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) {
		return bindingKindNames[k]
	}
	return fmt.Sprintf("BindingKind(%d)", int(k))
}

func (k BindingKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BindingKind) UnmarshalText(text []byte) error {
	for i, name := range bindingKindNames {
		if name == string(text) {
			*k = BindingKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown binding kind '%s'", text)
}

// isObjectLike is true for the kinds that reference another object in the
// document's object table.
func (k BindingKind) isObjectLike() bool {
	return k == BindingObject || k == BindingAttachedProperty || k == BindingGroupProperty
}

// PropertyDecl is a property declared by the document on one object.
type PropertyDecl struct {
	Name           string       `json:"name"`
	Type           PropertyType `json:"type"`
	CustomTypeName string       `json:"customType,omitempty"`
	// AliasTarget is "id" or "id.property" for alias properties.
	AliasTarget string   `json:"aliasTarget,omitempty"`
	ReadOnly    bool     `json:"readonly,omitempty"`
	Location    Location `json:"location"`
}

// ParameterDecl is one parameter of a declared signal.
type ParameterDecl struct {
	Name           string       `json:"name"`
	Type           PropertyType `json:"type"`
	CustomTypeName string       `json:"customType,omitempty"`
}

// SignalDecl is a signal declared by the document on one object.
type SignalDecl struct {
	Name       string          `json:"name"`
	Parameters []ParameterDecl `json:"parameters,omitempty"`
	Location   Location        `json:"location"`
}

// BindingDecl assigns a value to one property of an object. Bindings for the
// same property are contiguous in an object's binding table.
type BindingDecl struct {
	Property string      `json:"property"`
	Kind     BindingKind `json:"kind"`
	// SignalHandler marks a script binding that is a handler (onFoo)
	// instead of a property binding.
	SignalHandler bool `json:"signalHandler,omitempty"`

	Number float64 `json:"number,omitempty"`
	Bool   bool    `json:"bool,omitempty"`
	String string  `json:"string,omitempty"`
	// ObjectIndex is the referenced object for object, attached and group
	// bindings.
	ObjectIndex int `json:"objectIndex,omitempty"`
	// FunctionIndex is the compiled expression for script bindings.
	FunctionIndex int `json:"functionIndex,omitempty"`

	Location Location `json:"location"`
}

// StringValue returns the literal as text, the way it is handed to string
// based converters.
func (b *BindingDecl) StringValue() string {
	switch b.Kind {
	case BindingNumber:
		return formatNumber(b.Number)
	case BindingBoolean:
		if b.Bool {
			return "true"
		}
		return "false"
	default:
		return b.String
	}
}

// CompiledObject describes one object instance in a document. It is
// produced externally and never modified by the engine.
type CompiledObject struct {
	// TypeName is empty for synthetic objects, such as the contents of
	// attached and group properties.
	TypeName        string          `json:"type"`
	ID              string          `json:"id,omitempty"`
	Properties      []*PropertyDecl `json:"properties,omitempty"`
	Signals         []*SignalDecl   `json:"signals,omitempty"`
	Functions       []int           `json:"functions,omitempty"`
	Bindings        []*BindingDecl  `json:"bindings,omitempty"`
	DefaultProperty int             `json:"defaultProperty"`
	Location        Location        `json:"location"`
	IDLocation      Location        `json:"idLocation"`
}

// UnmarshalJSON defaults DefaultProperty to -1 when it is absent.
func (o *CompiledObject) UnmarshalJSON(data []byte) error {
	type plain CompiledObject
	p := plain{DefaultProperty: -1}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = CompiledObject(p)
	return nil
}

func (o *CompiledObject) hasMembers() bool {
	return len(o.Properties) > 0 || len(o.Signals) > 0 || len(o.Functions) > 0
}

// Executable is a compiled expression produced by the external expression
// compiler. It is invoked with the object as this and the scope chain to
// resolve names in, and returns a value or fails.
type Executable interface {
	Call(this *Object, scope Scope, args ...Value) (Value, error)
}

// ExpressionFunc adapts a Go function as an Executable.
type ExpressionFunc func(this *Object, scope Scope, args ...Value) (Value, error)

func (f ExpressionFunc) Call(this *Object, scope Scope, args ...Value) (Value, error) {
	return f(this, scope, args...)
}

// Function is one compiled function of a document: a binding expression, a
// signal handler body, or a declared function.
type Function struct {
	Name    string     `json:"name"`
	Formals []string   `json:"formals,omitempty"`
	Strict  bool       `json:"strict,omitempty"`
	Source  string     `json:"source,omitempty"`
	Code    Executable `json:"-"`
}

// call runs the function's code. A panic in the code is returned as an
// error.
func (fn *Function) call(this *Object, scope Scope, args ...Value) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = Undefined(), fmt.Errorf("%s: %v", fn.Name, r)
		}
	}()
	return fn.Code.Call(this, scope, args...)
}

// ExpressionCompiler turns a function's source into an Executable. The
// engine never parses expressions itself.
type ExpressionCompiler interface {
	Compile(fn *Function) (Executable, error)
}

// Document is a compiled declarative document: a flat object table plus the
// functions its bindings reference.
type Document struct {
	URL       string            `json:"url"`
	Objects   []*CompiledObject `json:"objects"`
	RootIndex int               `json:"root"`
	Functions []*Function       `json:"functions,omitempty"`
}

// Object returns the compiled object at index, or nil if out of range.
func (d *Document) Object(index int) *CompiledObject {
	if index < 0 || index >= len(d.Objects) {
		return nil
	}
	return d.Objects[index]
}

// LoadDocument decodes a JSON encoded compiled document and compiles every
// function with compiler. Functions that already carry code are left alone.
func LoadDocument(r io.Reader, compiler ExpressionCompiler) (*Document, error) {
	doc := &Document{}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("document decoding failed: %s", err)
	}

	if doc.RootIndex < 0 || doc.RootIndex >= len(doc.Objects) {
		return nil, fmt.Errorf("document root index %d out of range", doc.RootIndex)
	}

	var errs ErrorList
	for i, obj := range doc.Objects {
		if obj == nil {
			return nil, fmt.Errorf("document object %d is empty", i)
		}
		for _, b := range obj.Bindings {
			if b.Kind.isObjectLike() && doc.Object(b.ObjectIndex) == nil {
				errs = append(errs, newError(StructuralError, doc.URL, b.Location,
					"Binding references unknown object %d", b.ObjectIndex))
			}
			if b.Kind == BindingScript && (b.FunctionIndex < 0 || b.FunctionIndex >= len(doc.Functions)) {
				errs = append(errs, newError(StructuralError, doc.URL, b.Location,
					"Binding references unknown function %d", b.FunctionIndex))
			}
		}
	}

	for _, fn := range doc.Functions {
		if fn.Code != nil {
			continue
		}
		if compiler == nil {
			return nil, fmt.Errorf("function '%s' has no code and no compiler was given", fn.Name)
		}
		code, err := compiler.Compile(fn)
		if err != nil {
			return nil, fmt.Errorf("compiling function '%s' failed: %s", fn.Name, err)
		}
		fn.Code = code
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}
