package qml

import (
	"errors"
	"image/color"
	"os"
	"reflect"
	"testing"
)

var sharedEngine *Engine

type TestItem struct {
	QObject

	Width  float64
	Height float64
	Count  int
	Label  string
	Pos    Point
	Tint   color.NRGBA
	Fixed  int         `qml:"readonly"`
	Items  []*TestItem `qml:"default"`
	Target *TestItem
	Extra  interface{}

	Clicked func(x int) `qml:"x"`

	initWasCalled bool
	began         *Creation
	completed     int
	order         *[]string
}

func (i *TestItem) InitObject() {
	i.initWasCalled = true
}

func (i *TestItem) ClassBegin(c *Creation) {
	i.began = c
}

func (i *TestItem) ComponentComplete() {
	i.completed++
	if i.order != nil {
		*i.order = append(*i.order, "complete:"+i.Label)
	}
}

func (i *TestItem) Area() float64 {
	return i.Width * i.Height
}

func (i *TestItem) Resize(w, h float64) error {
	if w < 0 || h < 0 {
		return errors.New("negative size")
	}
	i.Width, i.Height = w, h
	i.Changed("width")
	i.Changed("height")
	return nil
}

type Shape interface {
	Sides() int
}

type TestSquare struct {
	QObject
	Size float64
}

func (s *TestSquare) Sides() int { return 4 }

type TestHolder struct {
	QObject
	Shape Shape
	Any   QObject
}

func newTestEngine(opts ...Option) *Engine {
	e := NewEngine(opts...)
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(e.RegisterType("Item", &TestItem{}, func() QObject { return &TestItem{} }))
	must(e.RegisterType("Square", &TestSquare{}, func() QObject { return &TestSquare{} }))
	must(e.RegisterType("Holder", &TestHolder{}, func() QObject { return &TestHolder{} }))
	must(e.RegisterInterface("Shape", (*Shape)(nil)))
	return e
}

func TestMain(m *testing.M) {
	sharedEngine = newTestEngine()
	os.Exit(m.Run())
}

// docBuilder assembles compiled documents for tests. Objects are added
// leaf first and reference each other by index.
type docBuilder struct {
	doc *Document
}

func newDocBuilder(url string) *docBuilder {
	return &docBuilder{doc: &Document{URL: url}}
}

func (b *docBuilder) add(typeName, id string, bindings ...*BindingDecl) int {
	b.doc.Objects = append(b.doc.Objects, &CompiledObject{
		TypeName:        typeName,
		ID:              id,
		Bindings:        bindings,
		DefaultProperty: -1,
		Location:        Location{Line: len(b.doc.Objects) + 1, Column: 1},
		IDLocation:      Location{Line: len(b.doc.Objects) + 1, Column: 5},
	})
	return len(b.doc.Objects) - 1
}

func (b *docBuilder) object(index int) *CompiledObject {
	return b.doc.Objects[index]
}

func (b *docBuilder) fn(name string, f ExpressionFunc, formals ...string) int {
	b.doc.Functions = append(b.doc.Functions, &Function{Name: name, Formals: formals, Code: f})
	return len(b.doc.Functions) - 1
}

func (b *docBuilder) build(root int) *Document {
	b.doc.RootIndex = root
	return b.doc
}

func numberBinding(property string, n float64) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingNumber, Number: n}
}

func stringBinding(property, s string) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingString, String: s}
}

func boolBinding(property string, v bool) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingBoolean, Bool: v}
}

func objectBinding(property string, index int) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingObject, ObjectIndex: index}
}

func scriptBinding(property string, fn int) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingScript, FunctionIndex: fn}
}

func handlerBinding(property string, fn int) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingScript, FunctionIndex: fn, SignalHandler: true}
}

func attachedBinding(typeName string, index int) *BindingDecl {
	return &BindingDecl{Property: typeName, Kind: BindingAttachedProperty, ObjectIndex: index}
}

func groupBinding(property string, index int) *BindingDecl {
	return &BindingDecl{Property: property, Kind: BindingGroupProperty, ObjectIndex: index}
}

// lookupProperty resolves name in scope and reads property of the object
// it names, the way an expression "name.property" would.
func lookupProperty(scope Scope, name, property string) (Value, error) {
	v, ok := scope.Lookup(name)
	if !ok {
		return Undefined(), errors.New(name + " is not defined")
	}
	if v.Kind() != ObjectKind || v.Object() == nil {
		return Undefined(), errors.New(name + " is not an object")
	}
	return v.Object().Property(property)
}

func nativeItem(t *testing.T, o *Object) *TestItem {
	t.Helper()
	if o == nil {
		t.Fatal("object is nil")
	}
	item, ok := o.Native().(*TestItem)
	if !ok {
		t.Fatalf("object %s is not an Item", o)
	}
	return item
}

func TestEngineCreate(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/create.qml")
	root := b.add("Item", "", numberBinding("width", 100), stringBinding("label", "root"))
	doc := b.build(root)

	obj, err := e.Create(doc)
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	item := nativeItem(t, obj)
	if !item.initWasCalled {
		t.Error("InitObject not called")
	}
	if item.began == nil {
		t.Error("ClassBegin not called")
	}
	if item.completed != 1 {
		t.Errorf("ComponentComplete called %d times, expected 1", item.completed)
	}
	if item.Width != 100 || item.Label != "root" {
		t.Errorf("unexpected property values: width %v label %q", item.Width, item.Label)
	}
	if obj.State() != StateFinalized {
		t.Errorf("object state is %s, expected finalized", obj.State())
	}
	if e.Object(obj.Identifier()) != obj {
		t.Error("object not found by identifier")
	}
	if url, loc := obj.Location(); url != doc.URL || loc.Line != 1 {
		t.Errorf("unexpected location %s:%d", url, loc.Line)
	}

	id := obj.Identifier()
	obj.Destroy()
	if e.Object(id) != nil {
		t.Error("destroyed object still found by identifier")
	}
	if e.ObjectCount() != 0 {
		t.Errorf("engine has %d live objects after destroy", e.ObjectCount())
	}
}

func TestEngineWarnings(t *testing.T) {
	var handled []*Error
	e := newTestEngine(WithWarningHandler(func(err *Error) { handled = append(handled, err) }))

	b := newDocBuilder("file:///test/warn.qml")
	fn := b.fn("width", func(this *Object, scope Scope, args ...Value) (Value, error) {
		return Undefined(), errors.New("ReferenceError: missing is not defined")
	})
	root := b.add("Item", "", scriptBinding("width", fn))
	b.object(root).Bindings[0].Location = Location{Line: 3, Column: 12}

	if _, err := e.Create(b.build(root)); err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	if len(handled) != 1 {
		t.Fatalf("warning handler called %d times, expected 1", len(handled))
	}
	w := handled[0]
	if w.Kind != ExpressionEvaluationError || w.Line != 3 || w.Column != 12 {
		t.Errorf("unexpected warning %v", w)
	}
	if got := w.Error(); got != "file:///test/warn.qml:3:12: ReferenceError: missing is not defined" {
		t.Errorf("unexpected warning text %q", got)
	}
	if len(e.Warnings()) != 1 {
		t.Errorf("engine recorded %d warnings, expected 1", len(e.Warnings()))
	}
	e.ClearWarnings()
	if len(e.Warnings()) != 0 {
		t.Error("warnings not cleared")
	}
}

func TestRegisterType(t *testing.T) {
	e := NewEngine()
	if err := e.RegisterType("item", &TestItem{}, func() QObject { return &TestItem{} }); err == nil {
		t.Error("lower case type name accepted")
	}
	if err := e.RegisterType("Item", &TestItem{}, func() QObject { return &TestItem{} }); err != nil {
		t.Errorf("RegisterType failed: %s", err)
	}
	if err := e.RegisterType("Item", &TestItem{}, func() QObject { return &TestItem{} }); err == nil {
		t.Error("duplicate type name accepted")
	}
	if err := e.RegisterType("Component", &TestItem{}, func() QObject { return &TestItem{} }); err == nil {
		t.Error("builtin Component type replaced")
	}
	if err := e.RegisterInterface("Bad", TestSquare{}); err == nil {
		t.Error("non-interface registered as interface")
	}

	ref, err := e.ResolveType("Item")
	if err != nil {
		t.Fatalf("ResolveType failed: %s", err)
	}
	if ref.GoType() != reflect.TypeOf(TestItem{}) {
		t.Errorf("resolved Go type is %v", ref.GoType())
	}
	if _, err := e.ResolveType("Missing"); err == nil {
		t.Error("unknown type resolved")
	} else if list, ok := AsErrors(err); !ok || !list.HasKind(TypeResolutionError) {
		t.Errorf("unexpected error for unknown type: %v", err)
	}
	if ref, err := e.ResolveType("Component"); err != nil || !ref.IsComponent() {
		t.Errorf("Component did not resolve to the component type: %v", err)
	}
	if ref, err := e.ResolveType("QtObject"); err != nil || !ref.IsValid() {
		t.Errorf("QtObject did not resolve: %v", err)
	}
}

func TestInterfaceCast(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/cast.qml")
	sq := b.add("Square", "")
	root := b.add("Holder", "", objectBinding("shape", sq))
	obj, err := e.Create(b.build(root))
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	holder := obj.Native().(*TestHolder)
	if holder.Shape == nil || holder.Shape.Sides() != 4 {
		t.Fatalf("interface property not assigned: %v", holder.Shape)
	}
	square := objectFor(holder.Shape)
	if s, ok := e.InterfaceCast(square, "Shape").(Shape); !ok || s.Sides() != 4 {
		t.Error("InterfaceCast of a Square to Shape failed")
	}
	if e.InterfaceCast(obj, "Shape") != nil {
		t.Error("InterfaceCast of a Holder to Shape succeeded")
	}
}
