package qml

import (
	"fmt"
	"image/color"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestConvertLiteral(t *testing.T) {
	e := NewEngine()
	const docURL = "file:///app/main.qml"

	num := func(n float64) *BindingDecl { return &BindingDecl{Kind: BindingNumber, Number: n} }
	str := func(s string) *BindingDecl { return &BindingDecl{Kind: BindingString, String: s} }
	boolean := func(v bool) *BindingDecl { return &BindingDecl{Kind: BindingBoolean, Bool: v} }

	cases := []struct {
		mt       MetaType
		binding  *BindingDecl
		expected interface{}
		err      string
	}{
		{MetaInt, num(3), int64(3), ""},
		{MetaInt, num(3.5), nil, "Invalid property assignment: int expected"},
		{MetaInt, num(1 << 40), nil, "Invalid property assignment: int expected"},
		{MetaInt, str("3"), nil, "Invalid property assignment: int expected"},
		{MetaUInt, num(-1), nil, "Invalid property assignment: unsigned int expected"},
		{MetaUInt, num(7), int64(7), ""},
		{MetaDouble, num(2.5), 2.5, ""},
		{MetaDouble, boolean(true), nil, "Invalid property assignment: number expected"},
		{MetaBool, boolean(true), true, ""},
		{MetaBool, num(1), nil, "Invalid property assignment: boolean expected"},
		{MetaString, str("hello"), "hello", ""},
		{MetaString, num(1), nil, "Invalid property assignment: string expected"},
		{MetaColor, str("#f00"), color.NRGBA{R: 255, A: 255}, ""},
		{MetaColor, str("#80ff0000"), color.NRGBA{R: 255, A: 128}, ""},
		{MetaColor, str("#102030"), color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}, ""},
		{MetaColor, str("red"), color.NRGBA{R: 255, A: 255}, ""},
		{MetaColor, str("transparent"), color.NRGBA{}, ""},
		{MetaColor, str("#12345"), nil, "Invalid property assignment: color expected"},
		{MetaColor, str("notacolor"), nil, "Invalid property assignment: color expected"},
		{MetaPoint, str("1,2"), Point{1, 2}, ""},
		{MetaPoint, str("1x2"), nil, "Invalid property assignment: point expected"},
		{MetaSize, str("3x4"), Size{3, 4}, ""},
		{MetaRect, str("1,2,3x4"), Rect{1, 2, 3, 4}, ""},
		{MetaRect, str("1,2,3"), nil, "Invalid property assignment: rect expected"},
		{MetaVector3D, str("1,2,3"), Vector3D{1, 2, 3}, ""},
		{MetaDate, str("2024-02-29"), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), ""},
		{MetaDate, str("yesterday"), nil, "Invalid property assignment: date expected"},
		{MetaTime, str("14:30"), time.Date(0, 1, 1, 14, 30, 0, 0, time.UTC), ""},
		{MetaStringList, str("one"), []string{"one"}, ""},
		{MetaIntList, num(4), []int{4}, ""},
		{MetaObject, num(1), nil, "Invalid property assignment: object expected"},
		{MetaObjectList, str("x"), nil, "Cannot assign primitives to lists"},
	}

	for _, c := range cases {
		p := &PropertyData{Name: "p", Type: c.mt}
		v, err := e.convertLiteral(docURL, p, c.binding)
		if c.err != "" {
			if err == nil {
				t.Errorf("%s from %s: expected error %q, got %v", c.mt, c.binding.StringValue(), c.err, v)
			} else if err.Description != c.err {
				t.Errorf("%s from %s: error %q, expected %q", c.mt, c.binding.StringValue(), err.Description, c.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s from %s: unexpected error %s", c.mt, c.binding.StringValue(), err)
			continue
		}
		if got := v.Interface(); !reflect.DeepEqual(got, c.expected) {
			t.Errorf("%s from %s: got %#v, expected %#v", c.mt, c.binding.StringValue(), got, c.expected)
		}
	}
}

func TestConvertVarLiterals(t *testing.T) {
	e := NewEngine()
	p := &PropertyData{Name: "v", Type: MetaVar}

	v, _ := e.convertLiteral("", p, &BindingDecl{Kind: BindingNumber, Number: 3})
	if v.Kind() != IntKind {
		t.Errorf("integral number literal stored as %s", v.Kind())
	}
	v, _ = e.convertLiteral("", p, &BindingDecl{Kind: BindingNumber, Number: 3.25})
	if v.Kind() != DoubleKind {
		t.Errorf("fractional number literal stored as %s", v.Kind())
	}
	v, _ = e.convertLiteral("", p, &BindingDecl{Kind: BindingString, String: "#fff"})
	if v.Kind() != StringKind {
		t.Errorf("string literal stored as %s", v.Kind())
	}
}

func TestConvertURL(t *testing.T) {
	base, _ := url.Parse("http://example.com/app/")
	e := NewEngine(WithBaseURL(base))
	p := &PropertyData{Name: "source", Type: MetaUrl}

	v, err := e.convertLiteral("file:///app/main.qml", p, &BindingDecl{Kind: BindingString, String: "images/logo.png"})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.ToString(); got != "file:///app/images/logo.png" {
		t.Errorf("relative url resolved to %s", got)
	}

	v, err = e.convertLiteral("", p, &BindingDecl{Kind: BindingString, String: "logo.png"})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.ToString(); got != "http://example.com/app/logo.png" {
		t.Errorf("url without document resolved to %s", got)
	}

	v, _ = e.convertLiteral("file:///app/main.qml", p, &BindingDecl{Kind: BindingString})
	if got := v.ToString(); got != "" {
		t.Errorf("empty url resolved to %q", got)
	}
}

type temperature float64

func (t *temperature) UnmarshalText(b []byte) error {
	var c float64
	if _, err := fmt.Sscanf(string(b), "%fC", &c); err != nil {
		return err
	}
	*t = temperature(c)
	return nil
}

func TestConvertCustomTypes(t *testing.T) {
	type code string
	codeType := reflect.TypeOf(code(""))
	e := NewEngine(WithStringConverter(codeType, func(s string) (interface{}, error) {
		return code("#" + s), nil
	}))

	v, err := e.convertLiteral("", &PropertyData{Type: MetaCustom, ElemType: codeType}, &BindingDecl{Kind: BindingString, String: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if v.Interface() != code("#a1") {
		t.Errorf("converter produced %v", v)
	}

	tempType := reflect.TypeOf(temperature(0))
	v, err = e.convertLiteral("", &PropertyData{Type: MetaCustom, ElemType: tempType}, &BindingDecl{Kind: BindingString, String: "21.5C"})
	if err != nil {
		t.Fatal(err)
	}
	if v.Interface() != temperature(21.5) {
		t.Errorf("text unmarshaler produced %v", v)
	}

	_, err = e.convertLiteral("", &PropertyData{Type: MetaCustom, ElemType: reflect.TypeOf(struct{}{})}, &BindingDecl{Kind: BindingString, String: "x"})
	if err == nil || err.Kind != PropertyConversionError {
		t.Errorf("unsupported type converted: %v", err)
	}
}

func TestLiteralAssignmentDuringCreation(t *testing.T) {
	e := newTestEngine()
	b := newDocBuilder("file:///test/literal.qml")
	root := b.add("Item", "", numberBinding("count", 3.5))
	_, err := e.Create(b.build(root))
	list, ok := AsErrors(err)
	if !ok || list[0].Kind != PropertyConversionError || list[0].Description != "Invalid property assignment: int expected" {
		t.Fatalf("unexpected result %v", err)
	}

	b = newDocBuilder("file:///test/literal-ok.qml")
	root = b.add("Item", "",
		numberBinding("count", 3),
		stringBinding("tint", "#0f0"),
		stringBinding("pos", "5,6"),
		stringBinding("objectName", "named"))
	obj, err := e.Create(b.build(root))
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	item := nativeItem(t, obj)
	if item.Count != 3 {
		t.Errorf("count is %d", item.Count)
	}
	if item.Tint != (color.NRGBA{G: 255, A: 255}) {
		t.Errorf("tint is %v", item.Tint)
	}
	if item.Pos != (Point{5, 6}) {
		t.Errorf("pos is %v", item.Pos)
	}
	if obj.ObjectName() != "named" {
		t.Errorf("objectName is %q", obj.ObjectName())
	}

	b = newDocBuilder("file:///test/literal-readonly.qml")
	root = b.add("Item", "", numberBinding("fixed", 1))
	_, err = e.Create(b.build(root))
	if list, ok := AsErrors(err); !ok || list[0].Description != "Invalid property assignment: \"fixed\" is a read-only property" {
		t.Errorf("read-only property assigned: %v", err)
	}

	b = newDocBuilder("file:///test/literal-missing.qml")
	root = b.add("Item", "", numberBinding("depth", 1))
	_, err = e.Create(b.build(root))
	if list, ok := AsErrors(err); !ok || list[0].Description != "Cannot assign to non-existent property \"depth\"" {
		t.Errorf("missing property assigned: %v", err)
	}
}

type narrowItem struct {
	QObject
	Small int8
	Level uint8
	Gain  float32
}

func TestConvertNarrowIntegers(t *testing.T) {
	e := NewEngine()
	int8Prop := &PropertyData{Name: "small", Type: MetaInt, goType: reflect.TypeOf(int8(0))}
	uint8Prop := &PropertyData{Name: "level", Type: MetaUInt, goType: reflect.TypeOf(uint8(0))}
	listProp := &PropertyData{Name: "steps", Type: MetaIntList, goType: reflect.TypeOf([]int16(nil))}

	cases := []struct {
		p   *PropertyData
		n   float64
		err string
	}{
		{int8Prop, 127, ""},
		{int8Prop, -128, ""},
		{int8Prop, 300, "Invalid property assignment: int expected"},
		{int8Prop, -129, "Invalid property assignment: int expected"},
		{uint8Prop, 255, ""},
		{uint8Prop, 256, "Invalid property assignment: unsigned int expected"},
		{listProp, 40000, "Invalid property assignment: int or array of ints expected"},
	}
	for _, c := range cases {
		_, err := e.convertLiteral("", c.p, &BindingDecl{Kind: BindingNumber, Number: c.n})
		if c.err == "" {
			if err != nil {
				t.Errorf("%s = %v: unexpected error %s", c.p.Name, c.n, err)
			}
		} else if err == nil || err.Description != c.err {
			t.Errorf("%s = %v: error %v, expected %q", c.p.Name, c.n, err, c.err)
		}
	}
}

func TestNarrowFieldAssignment(t *testing.T) {
	e := newTestEngine()
	if err := e.RegisterType("Narrow", &narrowItem{}, func() QObject { return &narrowItem{} }); err != nil {
		t.Fatal(err)
	}

	b := newDocBuilder("file:///test/narrow.qml")
	root := b.add("Narrow", "", numberBinding("small", 300))
	_, err := e.Create(b.build(root))
	list, ok := AsErrors(err)
	if !ok || list[0].Kind != PropertyConversionError || list[0].Description != "Invalid property assignment: int expected" {
		t.Fatalf("out of range literal assigned: %v", err)
	}

	b = newDocBuilder("file:///test/narrow-ok.qml")
	root = b.add("Narrow", "", numberBinding("small", -5), numberBinding("level", 200))
	obj, err := e.Create(b.build(root))
	if err != nil {
		t.Fatalf("Create failed: %s", err)
	}
	n := obj.Native().(*narrowItem)
	if n.Small != -5 || n.Level != 200 {
		t.Errorf("fields are %d and %d", n.Small, n.Level)
	}

	if err := obj.SetProperty("small", 300); err == nil {
		t.Error("out of range write to an int8 field succeeded")
	}
	if err := obj.SetProperty("level", -1); err == nil {
		t.Error("negative write to a uint8 field succeeded")
	}
	if err := obj.SetProperty("gain", 1e300); err == nil {
		t.Error("out of range write to a float32 field succeeded")
	}
	if n.Small != -5 || n.Level != 200 || n.Gain != 0 {
		t.Errorf("failed writes changed the fields to %d, %d, %v", n.Small, n.Level, n.Gain)
	}
	if err := obj.SetProperty("small", 100); err != nil || n.Small != 100 {
		t.Errorf("in range write failed: %v, small is %d", err, n.Small)
	}
}
