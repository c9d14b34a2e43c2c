package qml

import (
	"fmt"
	"strings"
	"testing"
)

// mapCompiler compiles function sources by looking them up in a table.
type mapCompiler map[string]ExpressionFunc

func (c mapCompiler) Compile(fn *Function) (Executable, error) {
	f, ok := c[fn.Source]
	if !ok {
		return nil, fmt.Errorf("syntax error in %q", fn.Source)
	}
	return f, nil
}

const testDocument = `{
	"url": "file:///test/loaded.qml",
	"root": 1,
	"objects": [
		{
			"type": "Item",
			"id": "child",
			"bindings": [
				{"property": "width", "kind": "script", "functionIndex": 0, "location": {"line": 4, "column": 10}}
			],
			"location": {"line": 3, "column": 5}
		},
		{
			"type": "Item",
			"id": "main",
			"properties": [
				{"name": "ratio", "type": "real"}
			],
			"bindings": [
				{"property": "width", "kind": "number", "number": 100},
				{"property": "ratio", "kind": "number", "number": 0.5},
				{"property": "", "kind": "object", "objectIndex": 0}
			],
			"location": {"line": 1, "column": 1}
		}
	],
	"functions": [
		{"name": "width", "source": "main.width * main.ratio"}
	]
}`

func testCompiler() mapCompiler {
	return mapCompiler{
		"main.width * main.ratio": func(this *Object, scope Scope, args ...Value) (Value, error) {
			w, err := lookupProperty(scope, "main", "width")
			if err != nil {
				return Undefined(), err
			}
			r, err := lookupProperty(scope, "main", "ratio")
			if err != nil {
				return Undefined(), err
			}
			a, _ := w.ToNumber()
			b, _ := r.ToNumber()
			return Double(a * b), nil
		},
	}
}

func TestLoadDocument(t *testing.T) {
	doc, err := LoadDocument(strings.NewReader(testDocument), testCompiler())
	if err != nil {
		t.Fatalf("LoadDocument failed: %s", err)
	}
	if doc.RootIndex != 1 || len(doc.Objects) != 2 {
		t.Fatalf("unexpected document shape: root %d, %d objects", doc.RootIndex, len(doc.Objects))
	}
	if doc.Objects[0].DefaultProperty != -1 {
		t.Errorf("absent default property decoded as %d", doc.Objects[0].DefaultProperty)
	}
	if doc.Objects[1].Properties[0].Type != TypeReal {
		t.Errorf("property type decoded as %s", doc.Objects[1].Properties[0].Type)
	}
	if doc.Objects[0].Bindings[0].Kind != BindingScript {
		t.Errorf("binding kind decoded as %s", doc.Objects[0].Bindings[0].Kind)
	}

	e := newTestEngine()
	obj, err := e.Create(doc)
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	child := obj.Context().IDObject("child")
	if w := nativeItem(t, child).Width; w != 50 {
		t.Errorf("child width is %v, expected 50", w)
	}
	if err := obj.SetProperty("ratio", 0.25); err != nil {
		t.Fatal(err)
	}
	if w := nativeItem(t, child).Width; w != 25 {
		t.Errorf("child width is %v after update, expected 25", w)
	}
}

func TestLoadDocumentErrors(t *testing.T) {
	cases := []struct {
		name, json, err string
	}{
		{"malformed", `{"objects": [`, "document decoding failed"},
		{"unknown field", `{"objects": [{"type": "Item"}], "extra": 1}`, "document decoding failed"},
		{"root out of range", `{"objects": [{"type": "Item"}], "root": 3}`, "out of range"},
		{"unknown kind", `{"objects": [{"type": "Item", "bindings": [{"property": "x", "kind": "magic"}]}]}`, "document decoding failed"},
		{"unknown object", `{"objects": [{"type": "Item", "bindings": [{"property": "target", "kind": "object", "objectIndex": 4}]}]}`, "unknown object 4"},
		{"unknown function", `{"objects": [{"type": "Item", "bindings": [{"property": "width", "kind": "script", "functionIndex": 2}]}]}`, "unknown function 2"},
		{"bad source", `{"objects": [{"type": "Item"}], "functions": [{"name": "f", "source": "1 +"}]}`, "syntax error"},
	}
	for _, c := range cases {
		_, err := LoadDocument(strings.NewReader(c.json), testCompiler())
		if err == nil || !strings.Contains(err.Error(), c.err) {
			t.Errorf("%s: expected error containing %q, got %v", c.name, c.err, err)
		}
	}

	if _, err := LoadDocument(strings.NewReader(`{"objects": [{"type": "Item"}], "functions": [{"name": "f"}]}`), nil); err == nil {
		t.Error("function without code loaded without a compiler")
	}
}
