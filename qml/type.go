package qml

import (
	"fmt"
	"image/color"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"
)

// nativeType is the parsed representation of a Go struct embedding QObject:
// its property cache layer and the Go field paths behind each member.
type nativeType struct {
	goType reflect.Type
	cache  *PropertyCache

	// fieldPaths maps property and signal data of this layer and every
	// parent native layer to field index paths within goType.
	fieldPaths map[*PropertyData][]int
}

var (
	knownTypesMu sync.Mutex
	knownTypes   = make(map[reflect.Type]*nativeType)
)

var (
	qobjInterfaceType = reflect.TypeOf((*QObject)(nil)).Elem()
	valueGoType       = reflect.TypeOf(Value{})
	urlGoType         = reflect.TypeOf((*url.URL)(nil))
	timeGoType        = reflect.TypeOf(time.Time{})
	nrgbaGoType       = reflect.TypeOf(color.NRGBA{})
	rgbaGoType        = reflect.TypeOf(color.RGBA{})
	matrixGoType      = reflect.TypeOf(Matrix4x4{})
	errorGoType       = reflect.TypeOf((*error)(nil)).Elem()
	emptyIfaceGoType  = reflect.TypeOf((*interface{})(nil)).Elem()
)

// rootCache is the base layer shared by every object: objectName, parent,
// and the destroyed signal.
var rootCache = func() *PropertyCache {
	c := newPropertyCache(nil, "QObject")
	c.AddRef()
	c.appendSignal(&PropertyData{Name: "destroyed", NotifyIndex: -1})
	c.appendSignal(&PropertyData{Name: "objectNameChanged", NotifyIndex: -1})
	c.appendSignal(&PropertyData{Name: "parentChanged", NotifyIndex: -1})
	c.appendProperty(&PropertyData{
		Name:        "objectName",
		Type:        MetaString,
		Flags:       FlagWritable,
		NotifyIndex: c.Signal("objectNameChanged").CoreIndex,
		storage:     storageBuiltin,
	})
	c.appendProperty(&PropertyData{
		Name:        "parent",
		Type:        MetaObject,
		Flags:       FlagObject,
		NotifyIndex: c.Signal("parentChanged").CoreIndex,
		storage:     storageBuiltin,
	})
	return c
}()

// reservedSignals may never be redeclared by a document.
var reservedSignals = []string{"destroyed", "parentChanged", "objectNameChanged"}

func typeIsQObject(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	f, ok := t.FieldByName("QObject")
	return ok && f.Anonymous && f.Type == qobjInterfaceType
}

type fieldOptions struct {
	ignore    bool
	readonly  bool
	isDefault bool
	date      bool
	time      bool
	name      string
}

func typeFieldOptions(field reflect.StructField) fieldOptions {
	var opts fieldOptions
	tag := field.Tag.Get("qml")
	if tag == "-" {
		opts.ignore = true
		return opts
	}
	if field.Type.Kind() != reflect.Func {
		for _, o := range strings.Split(tag, ",") {
			switch o {
			case "readonly":
				opts.readonly = true
			case "default":
				opts.isDefault = true
			case "date":
				opts.date = true
			case "time":
				opts.time = true
			}
		}
		if j := field.Tag.Get("json"); j == "-" {
			opts.ignore = true
		} else if j != "" {
			if n := strings.Split(j, ",")[0]; n != "" {
				opts.name = n
			}
		}
	}
	if opts.name == "" {
		opts.name = lowerFirst(field.Name)
	}
	return opts
}

func typeShouldIgnoreField(field reflect.StructField) bool {
	if field.PkgPath != "" && !field.Anonymous {
		return true
	}
	if field.Name == "QObject" && field.Anonymous {
		return true
	}
	return typeFieldOptions(field).ignore
}

// typeShouldIgnoreMethod filters unexported methods and the methods every
// object gets from the embedded QObject and the lifecycle interfaces.
func typeShouldIgnoreMethod(method reflect.Method) bool {
	if method.PkgPath != "" {
		return true
	}
	if _, ok := qobjInterfaceType.MethodByName(method.Name); ok {
		return true
	}
	switch method.Name {
	case "InitObject", "ClassBegin", "ComponentComplete", "String":
		return true
	}
	return false
}

// metaTypeFor maps a Go type to the engine's static type. elem is the
// accepted element or object type for object-valued kinds.
func metaTypeFor(t reflect.Type, opts fieldOptions) (MetaType, reflect.Type) {
	switch t {
	case valueGoType:
		return MetaVariant, nil
	case urlGoType:
		return MetaUrl, nil
	case timeGoType:
		if opts.date {
			return MetaDate, nil
		} else if opts.time {
			return MetaTime, nil
		}
		return MetaDateTime, nil
	case nrgbaGoType, rgbaGoType:
		return MetaColor, nil
	case reflect.TypeOf(Point{}):
		return MetaPoint, nil
	case reflect.TypeOf(Size{}):
		return MetaSize, nil
	case reflect.TypeOf(Rect{}):
		return MetaRect, nil
	case reflect.TypeOf(Vector2D{}):
		return MetaVector2D, nil
	case reflect.TypeOf(Vector3D{}):
		return MetaVector3D, nil
	case reflect.TypeOf(Vector4D{}):
		return MetaVector4D, nil
	case reflect.TypeOf(Quaternion{}):
		return MetaQuaternion, nil
	case reflect.TypeOf(Font{}):
		return MetaFont, nil
	case matrixGoType:
		return MetaMatrix4x4, nil
	case emptyIfaceGoType:
		return MetaVariant, nil
	case qobjInterfaceType:
		return MetaObject, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return MetaBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return MetaInt, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return MetaUInt, nil
	case reflect.Float32:
		return MetaFloat, nil
	case reflect.Float64:
		return MetaDouble, nil
	case reflect.String:
		return MetaString, nil
	case reflect.Ptr:
		if typeIsQObject(t) {
			return MetaObject, t
		}
	case reflect.Interface:
		return MetaInterface, t
	case reflect.Slice:
		elem := t.Elem()
		switch {
		case elem.Kind() == reflect.Uint8:
			return MetaByteArray, nil
		case elem.Kind() == reflect.String:
			return MetaStringList, nil
		case elem.Kind() == reflect.Float64:
			return MetaRealList, nil
		case elem.Kind() == reflect.Int:
			return MetaIntList, nil
		case elem.Kind() == reflect.Bool:
			return MetaBoolList, nil
		case elem == urlGoType:
			return MetaUrlList, nil
		case elem == qobjInterfaceType:
			return MetaObjectList, nil
		case elem.Kind() == reflect.Ptr && typeIsQObject(elem):
			return MetaObjectList, elem
		case elem.Kind() == reflect.Interface:
			return MetaObjectList, elem
		}
	}
	return MetaCustom, t
}

// parseType reflects a Go struct type embedding QObject into a native type,
// building its property cache layer. Results are cached per type.
func parseType(t reflect.Type) (*nativeType, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	knownTypesMu.Lock()
	defer knownTypesMu.Unlock()
	return parseTypeLocked(t)
}

func parseTypeLocked(t reflect.Type) (*nativeType, error) {
	if nt, exists := knownTypes[t]; exists {
		return nt, nil
	}

	if !typeIsQObject(t) {
		return nil, fmt.Errorf("Type '%s' is not a QObject; it must embed QObject", t.Name())
	}

	// The first embedded struct that is itself a QObject type becomes the
	// parent layer; its members are not repeated here.
	parent := rootCache
	var parentType *nativeType
	var parentIndex []int
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.Anonymous || field.Name == "QObject" {
			continue
		}
		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			continue
		}
		if typeIsQObject(ft) {
			pt, err := parseTypeLocked(ft)
			if err != nil {
				return nil, err
			}
			parentType = pt
			parent = pt.cache
			parentIndex = field.Index
			break
		}
	}

	nt := &nativeType{
		goType:     t,
		cache:      newPropertyCache(parent, t.Name()),
		fieldPaths: make(map[*PropertyData][]int),
	}
	nt.cache.goType = t
	nt.cache.AddRef()

	if parentType != nil {
		for pd, path := range parentType.fieldPaths {
			nt.fieldPaths[pd] = append(append([]int{}, parentIndex...), path...)
		}
	}

	var props []*PropertyData
	var signals []*PropertyData
	if err := typeFieldsToMembers(nt, t, nil, parentIndex, &props, &signals); err != nil {
		return nil, err
	}

	// Change signals for every property, adopting explicit ones if they exist.
	explicit := make(map[string]*PropertyData)
	for _, s := range signals {
		explicit[s.Name] = s
	}
	for _, p := range props {
		name := changedSignalName(p.Name)
		if s, exists := explicit[name]; exists {
			if len(s.Parameters) > 0 {
				return nil, fmt.Errorf("Signal '%s' is a property change signal, but has %d parameters. These signals should not have parameters.", name, len(s.Parameters))
			}
			continue
		}
		if parent.Signal(name) != nil {
			continue
		}
		signals = append(signals, &PropertyData{Name: name, NotifyIndex: -1})
	}

	for _, s := range signals {
		if nt.cache.Member(s.Name) != nil {
			return nil, fmt.Errorf("Signal '%s' of type '%s' overrides an inherited member", s.Name, t.Name())
		}
		nt.cache.appendSignal(s)
	}

	ptrType := reflect.PtrTo(t)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		if typeShouldIgnoreMethod(method) {
			continue
		}
		name := lowerFirst(method.Name)
		if parent.Member(name) != nil {
			// Promoted from the parent layer
			continue
		}
		if nt.cache.Member(name) != nil {
			return nil, fmt.Errorf("Method '%s' of type '%s' collides with a signal or property", name, t.Name())
		}

		md := &PropertyData{Name: name, NotifyIndex: -1, goField: method.Name}
		for p := 1; p < method.Type.NumIn(); p++ {
			mt, _ := metaTypeFor(method.Type.In(p), fieldOptions{})
			md.ParameterTypes = append(md.ParameterTypes, mt)
			md.Parameters = append(md.Parameters, fmt.Sprintf("arg%d", p-1))
		}
		if len(md.Parameters) > 0 {
			md.Flags |= FlagHasArguments
		}
		nt.cache.appendMethod(md)
	}

	for _, p := range props {
		if parent.Member(p.Name) != nil {
			return nil, fmt.Errorf("Property '%s' of type '%s' overrides an inherited member", p.Name, t.Name())
		}
		p.NotifyIndex = nt.cache.Signal(changedSignalName(p.Name)).CoreIndex
		nt.cache.appendProperty(p)
		if p.Flags&FlagDefault != 0 {
			nt.cache.defaultProperty = p.Name
		}
	}

	knownTypes[t] = nt
	return nt, nil
}

// typeFieldsToMembers adds properties and signals from the fields of t,
// including those of anonymous non-QObject structs, breadth first.
func typeFieldsToMembers(nt *nativeType, t reflect.Type, index, skip []int, props, signals *[]*PropertyData) error {
	var anonStructs []reflect.StructField

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := append(append([]int{}, index...), field.Index...)
		if skip != nil && reflect.DeepEqual(path, skip) {
			continue
		}
		if typeShouldIgnoreField(field) {
			continue
		} else if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && !typeIsQObject(ft) && field.Type.Kind() != reflect.Ptr {
				anonStructs = append(anonStructs, field)
			}
			continue
		}

		opts := typeFieldOptions(field)

		// Signals are func fields; the qml tag names each parameter.
		if field.Type.Kind() == reflect.Func {
			pd := &PropertyData{Name: opts.name, NotifyIndex: -1, goField: field.Name, goType: field.Type}
			var paramNames []string
			if tag := field.Tag.Get("qml"); tag != "" {
				paramNames = strings.Split(tag, ",")
			}
			if field.Type.NumIn() > 0 && len(paramNames) != field.Type.NumIn() {
				return fmt.Errorf("Signal '%s' has %d parameters, but names %d. All parameters must be named in the `qml:` tag.", opts.name, field.Type.NumIn(), len(paramNames))
			}
			for p := 0; p < field.Type.NumIn(); p++ {
				mt, _ := metaTypeFor(field.Type.In(p), fieldOptions{})
				pd.Parameters = append(pd.Parameters, paramNames[p])
				pd.ParameterTypes = append(pd.ParameterTypes, mt)
			}
			if len(pd.Parameters) > 0 {
				pd.Flags |= FlagHasArguments
			}
			nt.fieldPaths[pd] = path
			*signals = append(*signals, pd)
			continue
		}

		mt, elem := metaTypeFor(field.Type, opts)
		pd := &PropertyData{
			Name:     opts.name,
			Type:     mt,
			ElemType: elem,
			storage:  storageField,
			goField:  field.Name,
			goType:   field.Type,
		}
		switch mt {
		case MetaObject:
			pd.Flags |= FlagObject
		case MetaObjectList:
			pd.Flags |= FlagList
		case MetaVariant:
			pd.Flags |= FlagVariant
		}
		if !opts.readonly && mt != MetaObjectList {
			pd.Flags |= FlagWritable
		}
		if opts.isDefault {
			pd.Flags |= FlagDefault
		}
		nt.fieldPaths[pd] = path
		*props = append(*props, pd)
	}

	for _, ast := range anonStructs {
		if err := typeFieldsToMembers(nt, ast.Type, append(append([]int{}, index...), ast.Index...), nil, props, signals); err != nil {
			return err
		}
	}
	return nil
}

func (nt *nativeType) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s {", nt.cache.className)
	for _, p := range nt.cache.properties {
		fmt.Fprintf(&b, " %s %s;", p.Type, p.Name)
	}
	for _, m := range nt.cache.methods {
		if m.IsSignal() {
			fmt.Fprintf(&b, " signal %s(%s);", m.Name, strings.Join(m.Parameters, ", "))
		} else {
			fmt.Fprintf(&b, " function %s(%s);", m.Name, strings.Join(m.Parameters, ", "))
		}
	}
	b.WriteString(" }")
	return b.String()
}
