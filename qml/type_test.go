package qml

import (
	"reflect"
	"testing"
	"time"
)

type typeFields struct {
	Text  string
	Bytes []byte
	Names []string
	Ptr   *TestItem
	Any   interface{}
	When  time.Time `qml:"date"`
}

type typeTestStruct struct {
	QObject
	typeFields

	unexported  bool
	Ignored     bool `qml:"-"`
	IgnoredJSON bool `json:"-"`
	Renamed     int  `json:"renamedField"`

	Signal       func()
	SignalParams func(a, b int) `qml:"a,b"`
}

func (t *typeTestStruct) RealMethod(arg1 int, arg2 []string) (*typeTestStruct, error) {
	return t, nil
}

type derivedItem struct {
	TestItem
	Depth float64
}

func layerNames(members []*PropertyData) map[string]*PropertyData {
	m := make(map[string]*PropertyData)
	for _, p := range members {
		m[p.Name] = p
	}
	return m
}

func TestParseTypes(t *testing.T) {
	info, err := parseType(reflect.TypeOf(typeTestStruct{}))
	if err != nil {
		t.Fatalf("parseType failed: %v", err)
	}
	t.Logf("parsed type: %s", info)

	expectProp := map[string]MetaType{
		"text":         MetaString,
		"bytes":        MetaByteArray,
		"names":        MetaStringList,
		"ptr":          MetaObject,
		"any":          MetaVariant,
		"when":         MetaDate,
		"renamedField": MetaInt,
	}
	expectMethod := []string{"realMethod"}
	expectSignal := []string{"signal", "signalParams"}

	props := layerNames(info.cache.properties)
	for name, mt := range expectProp {
		p, exists := props[name]
		if !exists {
			t.Errorf("Expected property '%s' to exist", name)
			continue
		}
		if p.Type != mt {
			t.Errorf("Property '%s' has type %s, expected %s", name, p.Type, mt)
		}
		if p.NotifyIndex < 0 || info.cache.MethodAt(p.NotifyIndex).Name != changedSignalName(name) {
			t.Errorf("Property '%s' has no change signal", name)
		}
		expectSignal = append(expectSignal, changedSignalName(name))
	}
	if len(expectProp) != len(props) {
		t.Errorf("Expected %d properties but type info has %d", len(expectProp), len(props))
	}
	if props["ptr"] != nil && props["ptr"].ElemType != reflect.TypeOf(&TestItem{}) {
		t.Errorf("Object property accepts %v", props["ptr"].ElemType)
	}

	methods := layerNames(info.cache.methods)
	for _, name := range expectMethod {
		m, exists := methods[name]
		if !exists || m.IsSignal() {
			t.Errorf("Expected method '%s' to exist", name)
			continue
		}
		if len(m.Parameters) != 2 {
			t.Errorf("Method expected %d args but has %d: %v", 2, len(m.Parameters), m.Parameters)
		}
	}
	signals := 0
	for _, m := range info.cache.methods {
		if m.IsSignal() {
			signals++
		}
	}
	for _, name := range expectSignal {
		if s, exists := methods[name]; !exists || !s.IsSignal() {
			t.Errorf("Expected signal '%s' to exist", name)
		}
	}
	if len(expectSignal) != signals {
		t.Errorf("Expected %d signals but type info has %d", len(expectSignal), signals)
	}
	if s := methods["signalParams"]; s != nil && (len(s.Parameters) != 2 || s.Parameters[1] != "b") {
		t.Errorf("Signal parameters are %v", s.Parameters)
	}

	again, _ := parseType(reflect.TypeOf(&typeTestStruct{}))
	if again != info {
		t.Error("Type parsed twice")
	}
}

func TestParseTypeErrors(t *testing.T) {
	type notQObject struct {
		Value int
	}
	type unnamedParams struct {
		QObject
		Moved func(x, y int)
	}
	type badChange struct {
		QObject
		Size        int
		SizeChanged func(v int) `qml:"v"`
	}

	for _, v := range []interface{}{notQObject{}, unnamedParams{}, badChange{}} {
		if _, err := parseType(reflect.TypeOf(v)); err == nil {
			t.Errorf("parseType of %T succeeded", v)
		}
	}
}

func TestDerivedNativeType(t *testing.T) {
	e := newTestEngine()
	if err := e.RegisterType("Derived", &derivedItem{}, func() QObject { return &derivedItem{} }); err != nil {
		t.Fatal(err)
	}
	nt, _ := parseType(reflect.TypeOf(derivedItem{}))
	base, _ := parseType(reflect.TypeOf(TestItem{}))
	if nt.cache.Parent() != base.cache {
		t.Error("derived type does not extend the cache of its embedded type")
	}

	b := newDocBuilder("file:///test/derived.qml")
	child := b.add("Derived", "", numberBinding("width", 3), numberBinding("depth", 4))
	root := b.add("Item", "", objectBinding("target", child))
	obj, err := e.Create(b.build(root))
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	item := nativeItem(t, obj)
	if item.Target == nil || item.Target.Width != 3 {
		t.Fatalf("derived object not assigned as its base type: %v", item.Target)
	}
	d, ok := objectFor(item.Target).Native().(*derivedItem)
	if !ok || d.Depth != 4 {
		t.Errorf("derived fields not assigned: %v", d)
	}
	if v, err := objectFor(item.Target).Invoke("area"); err != nil {
		t.Errorf("inherited method not callable: %s", err)
	} else if n, _ := v.ToNumber(); n != 0 {
		t.Errorf("area() returned %v", v)
	}
}
