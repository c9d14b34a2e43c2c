package qml

import (
	"strings"
	"testing"
)

// compileErrors compiles doc and returns its errors, failing the test if it
// compiled cleanly.
func compileErrors(t *testing.T, e *Engine, doc *Document) ErrorList {
	t.Helper()
	err := e.Compile(doc)
	if err == nil {
		t.Fatal("document compiled without errors")
	}
	list, ok := AsErrors(err)
	if !ok {
		t.Fatalf("compile returned %T, not an error list", err)
	}
	return list
}

func TestDuplicateIds(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/dup.qml")
	c1 := b.add("Item", "x")
	c2 := b.add("Item", "x")
	root := b.add("QtObject", "", objectBinding("", c1), objectBinding("", c2))
	doc := b.build(root)

	list := compileErrors(t, e, doc)
	if len(list) != 1 || list[0].Kind != DuplicateIdError || list[0].Description != "id is not unique" {
		t.Fatalf("unexpected errors %v", list)
	}
	if list[0].Line != 2 || list[0].Column != 5 {
		t.Errorf("error attributed to %d:%d, expected the second id", list[0].Line, list[0].Column)
	}

	obj, err := e.Create(doc)
	if obj != nil || err == nil {
		t.Error("document with duplicate ids created an object")
	}
	if e.ObjectCount() != 0 {
		t.Errorf("%d objects created", e.ObjectCount())
	}
}

func TestIdsAreScopedToComponents(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/scoped.qml")
	body := b.add("Item", "x")
	comp := b.add("Component", "comp", objectBinding("", body))
	other := b.add("Item", "x")
	root := b.add("QtObject", "", objectBinding("", comp), objectBinding("", other))
	if err := e.Compile(b.build(root)); err != nil {
		t.Errorf("same id in a component body and its document rejected: %s", err)
	}
}

func TestInvalidIds(t *testing.T) {
	e := newTestEngine()
	for _, id := range []string{"Upper", "1st", "has-dash", "parent"} {
		b := newDocBuilder("file:///test/id.qml")
		root := b.add("Item", id)
		list := compileErrors(t, e, b.build(root))
		if !list.HasKind(StructuralError) {
			t.Errorf("id %q: unexpected errors %v", id, list)
		}
	}

	b := newDocBuilder("file:///test/id-group.qml")
	group := b.add("", "g", numberBinding("x", 1))
	root := b.add("Item", "", groupBinding("pos", group))
	list := compileErrors(t, e, b.build(root))
	if list[0].Description != "Group and attached property objects cannot have an id" {
		t.Errorf("unexpected errors %v", list)
	}
}

func TestComponentBoundaries(t *testing.T) {
	e := newTestEngine()

	b := newDocBuilder("file:///test/component.qml")
	sizeFn := b.fn("width", func(this *Object, scope Scope, args ...Value) (Value, error) {
		return lookupProperty(scope, "root", "size")
	})
	body := b.add("Item", "body", scriptBinding("width", sizeFn))
	comp := b.add("Component", "comp", objectBinding("", body))
	root := b.add("QtObject", "root", numberBinding("size", 12), objectBinding("", comp))
	b.object(root).Properties = []*PropertyDecl{{Name: "size", Type: TypeInt}}
	doc := b.build(root)

	obj, err := e.Create(doc)
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	compObj := obj.Context().IDObject("comp")
	if compObj == nil {
		t.Fatal("component not registered under its id")
	}
	if obj.Context().IDObject("body") != nil {
		t.Error("component body instantiated with its document")
	}
	if compObj.State() != StateFinalized {
		t.Errorf("component object is %s", compObj.State())
	}

	component, ok := compObj.Native().(*Component)
	if !ok {
		t.Fatalf("component object is %T", compObj.Native())
	}
	inst, err := component.Create(obj)
	if err != nil {
		t.Fatalf("Component.Create failed: %s", err)
	}
	if nativeItem(t, inst).Width != 12 {
		t.Errorf("body binding evaluated to %v, expected 12", nativeItem(t, inst).Width)
	}
	if inst.Parent() != obj {
		t.Error("instance not parented")
	}
	if inst.Context().Parent() != obj.Context() {
		t.Error("instance context is not a child of the declaring context")
	}
	if inst.Context().IDObject("body") != inst {
		t.Error("body id not registered in the instance context")
	}

	// Each instance has its own context
	inst2, err := e.CreateComponent(doc, comp, nil)
	if err != nil {
		t.Fatalf("CreateComponent failed: %s", err)
	}
	if inst2.Context() == inst.Context() {
		t.Error("component instances share a context")
	}
	if _, err := e.CreateComponent(doc, body, nil); err == nil {
		t.Error("CreateComponent of a non-component object succeeded")
	}

	// Destroying the declaring context stops further instantiation
	obj.Destroy()
	if _, err := component.Create(nil); err == nil {
		t.Error("component created after its context was destroyed")
	}
}

func TestInvalidComponents(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		name  string
		build func(b *docBuilder) int
		desc  string
	}{
		{"extra binding", func(b *docBuilder) int {
			body := b.add("Item", "")
			return b.add("Component", "", numberBinding("width", 1), objectBinding("", body))
		}, "Component elements may not contain properties other than id"},
		{"two bodies", func(b *docBuilder) int {
			b1 := b.add("Item", "")
			b2 := b.add("Item", "")
			return b.add("Component", "", objectBinding("", b1), objectBinding("", b2))
		}, "Component elements may not contain properties other than id"},
		{"empty", func(b *docBuilder) int {
			return b.add("Component", "")
		}, "Cannot create empty component specification"},
		{"component body", func(b *docBuilder) int {
			body := b.add("Item", "")
			inner := b.add("Component", "", objectBinding("", body))
			return b.add("Component", "", objectBinding("", inner))
		}, "Invalid component body specification."},
		{"declared property", func(b *docBuilder) int {
			body := b.add("Item", "")
			c := b.add("Component", "", objectBinding("", body))
			b.object(c).Properties = []*PropertyDecl{{Name: "size", Type: TypeInt}}
			return c
		}, "Component objects cannot declare new properties."},
	}
	for _, c := range cases {
		b := newDocBuilder("file:///test/" + strings.ReplaceAll(c.name, " ", "-") + ".qml")
		comp := c.build(b)
		root := b.add("QtObject", "", objectBinding("", comp))
		doc := b.build(root)

		obj, err := e.Create(doc)
		if obj != nil {
			t.Errorf("%s: object created", c.name)
		}
		list, ok := AsErrors(err)
		if !ok || len(list) == 0 {
			t.Errorf("%s: expected errors, got %v", c.name, err)
			continue
		}
		if list[0].Kind != StructuralError || list[0].Description != c.desc {
			t.Errorf("%s: unexpected error %v", c.name, list[0])
		}
	}
}

func TestObjectTreeErrors(t *testing.T) {
	e := newTestEngine()

	b := newDocBuilder("file:///test/twice.qml")
	child := b.add("Item", "")
	root := b.add("Item", "", objectBinding("target", child), objectBinding("", child))
	list := compileErrors(t, e, b.build(root))
	if list[0].Description != "Object is assigned to more than one property" {
		t.Errorf("unexpected errors %v", list)
	}

	b = newDocBuilder("file:///test/root-child.qml")
	root = b.add("Item", "")
	b.object(root).Bindings = []*BindingDecl{objectBinding("target", root)}
	list = compileErrors(t, e, b.build(root))
	if list[0].Description != "The root object cannot be assigned to a property" {
		t.Errorf("unexpected errors %v", list)
	}

	b = newDocBuilder("file:///test/unknown-type.qml")
	root = b.add("Rectangle", "")
	list = compileErrors(t, e, b.build(root))
	if list[0].Kind != TypeResolutionError || list[0].Description != "Rectangle is not a type" {
		t.Errorf("unexpected errors %v", list)
	}

	b = newDocBuilder("file:///test/unknown-attached.qml")
	handlers := b.add("", "")
	root = b.add("Item", "", attachedBinding("Keys", handlers))
	if _, err := e.Create(b.build(root)); err == nil {
		t.Error("unknown attached type accepted")
	}

	b = newDocBuilder("file:///test/missing.qml")
	root = b.add("Item", "", objectBinding("target", 42))
	list = compileErrors(t, e, b.build(root))
	if !list.HasKind(StructuralError) {
		t.Errorf("unexpected errors %v", list)
	}
}

func TestAliasErrors(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		target, desc string
	}{
		{"missing.width", "Invalid alias reference. Unable to find id \"missing\""},
		{"inner.depth", "Invalid alias target location: depth"},
		{"inner.width.x", "Invalid alias location"},
	}
	for _, c := range cases {
		b := newDocBuilder("file:///test/alias-error.qml")
		inner := b.add("Item", "inner")
		root := b.add("Item", "", objectBinding("", inner))
		b.object(root).Properties = []*PropertyDecl{{Name: "a", Type: TypeAlias, AliasTarget: c.target}}
		list := compileErrors(t, e, b.build(root))
		if list[0].Kind != TypeResolutionError || list[0].Description != c.desc {
			t.Errorf("alias %s: unexpected errors %v", c.target, list)
		}
	}

	// Aliases to aliases resolve regardless of declaration order
	b := newDocBuilder("file:///test/alias-chain.qml")
	inner := b.add("Item", "inner", numberBinding("width", 3))
	mid := b.add("Item", "mid", objectBinding("", inner))
	root := b.add("Item", "top", objectBinding("", mid))
	b.object(root).Properties = []*PropertyDecl{{Name: "outer", Type: TypeAlias, AliasTarget: "mid.innerWidth"}}
	b.object(mid).Properties = []*PropertyDecl{{Name: "innerWidth", Type: TypeAlias, AliasTarget: "inner.width"}}
	obj, err := e.Create(b.build(root))
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	if v, _ := obj.Property("outer"); v.Interface() != 3.0 {
		t.Errorf("chained alias reads %v", v)
	}
}

func TestRecursiveComposite(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/Loop.qml")
	root := b.add("Loop", "")
	doc := b.build(root)
	if err := e.RegisterComposite("Loop", doc); err != nil {
		t.Fatal(err)
	}
	list := compileErrors(t, e, doc)
	if !strings.Contains(list.Error(), "recursively") {
		t.Errorf("unexpected errors %v", list)
	}
}

func TestCompileCache(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/cached.qml")
	root := b.add("Item", "")
	doc := b.build(root)

	d1, err := e.compile(doc)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := e.compile(doc)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("document compiled twice")
	}
}
