package qml

import (
	"reflect"
	"sync/atomic"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MetaType is the static type of a property, signal parameter or method
// argument as seen by the engine.
type MetaType int

const (
	MetaInvalid MetaType = iota
	MetaVariant
	MetaVar
	MetaInt
	MetaUInt
	MetaBool
	MetaFloat
	MetaDouble
	MetaString
	MetaStringList
	MetaByteArray
	MetaUrl
	MetaColor
	MetaFont
	MetaTime
	MetaDate
	MetaDateTime
	MetaPoint
	MetaSize
	MetaRect
	MetaVector2D
	MetaVector3D
	MetaVector4D
	MetaMatrix4x4
	MetaQuaternion
	MetaRealList
	MetaIntList
	MetaBoolList
	MetaUrlList
	MetaObject
	MetaObjectList
	MetaInterface
	// MetaCustom is a Go type converted from strings by a converter
	// registered with WithStringConverter.
	MetaCustom
)

var metaTypeNames = map[MetaType]string{
	MetaInvalid:    "invalid",
	MetaVariant:    "variant",
	MetaVar:        "var",
	MetaInt:        "int",
	MetaUInt:       "uint",
	MetaBool:       "bool",
	MetaFloat:      "float",
	MetaDouble:     "double",
	MetaString:     "string",
	MetaStringList: "stringlist",
	MetaByteArray:  "bytearray",
	MetaUrl:        "url",
	MetaColor:      "color",
	MetaFont:       "font",
	MetaTime:       "time",
	MetaDate:       "date",
	MetaDateTime:   "datetime",
	MetaPoint:      "point",
	MetaSize:       "size",
	MetaRect:       "rect",
	MetaVector2D:   "vector2d",
	MetaVector3D:   "vector3d",
	MetaVector4D:   "vector4d",
	MetaMatrix4x4:  "matrix4x4",
	MetaQuaternion: "quaternion",
	MetaRealList:   "list<real>",
	MetaIntList:    "list<int>",
	MetaBoolList:   "list<bool>",
	MetaUrlList:    "list<url>",
	MetaObject:     "object",
	MetaObjectList: "list",
	MetaInterface:  "interface",
	MetaCustom:     "custom",
}

func (t MetaType) String() string {
	if n, ok := metaTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// PropertyFlags describe a PropertyData entry.
type PropertyFlags uint32

const (
	FlagWritable PropertyFlags = 1 << iota
	FlagList
	// FlagVar is a "var" property backed by dynamic storage.
	FlagVar
	FlagAlias
	// FlagVariant is a catch-all property written natively.
	FlagVariant
	FlagObject
	FlagSignal
	FlagFunction
	// FlagDynamic marks members declared by a document rather than a
	// native type.
	FlagDynamic
	FlagHasArguments
	FlagDefault
)

type storageKind uint8

const (
	storageNone storageKind = iota
	storageBuiltin
	storageField
	storageDynamic
)

// PropertyData describes one property, signal or method.
//
// Properties have their own index space. Signals and methods share the
// method index space, signals of a layer first.
type PropertyData struct {
	Name      string
	CoreIndex int
	// NotifyIndex is the method index of the change signal, -1 if none.
	NotifyIndex int
	Type        MetaType
	Flags       PropertyFlags

	// ElemType is the Go type accepted by object, list, interface and
	// custom properties; nil accepts any object.
	ElemType reflect.Type
	// ElemCache is the cache an object must derive from to be assigned,
	// for properties typed with a registered or composite type.
	ElemCache   *PropertyCache
	InterfaceID string

	Parameters     []string
	ParameterTypes []MetaType

	storage storageKind
	// goField is the Go field name for field storage and native signals.
	goField string
	// slot is the dynamic storage slot.
	slot int
	// goType is the field's Go type.
	goType reflect.Type
}

func (p *PropertyData) IsWritable() bool { return p.Flags&FlagWritable != 0 }
func (p *PropertyData) IsList() bool     { return p.Flags&FlagList != 0 }
func (p *PropertyData) IsVar() bool      { return p.Flags&FlagVar != 0 }
func (p *PropertyData) IsAlias() bool    { return p.Flags&FlagAlias != 0 }
func (p *PropertyData) IsSignal() bool   { return p.Flags&FlagSignal != 0 }
func (p *PropertyData) IsFunction() bool { return p.Flags&FlagFunction != 0 && p.Flags&FlagSignal == 0 }
func (p *PropertyData) IsDynamic() bool  { return p.Flags&FlagDynamic != 0 }
func (p *PropertyData) isMethodLike() bool {
	return p.Flags&(FlagSignal|FlagFunction) != 0
}

// PropertyCache is one layer of a type's member table. Layers chain to the
// type they extend; indices continue from the parent layer. A published
// cache is never modified and is shared by every instance of its type.
type PropertyCache struct {
	parent    *PropertyCache
	className string
	// goType is the struct type of a native layer, nil for document layers.
	goType reflect.Type

	properties []*PropertyData
	methods    []*PropertyData
	// signalCount is the number of signals at the start of methods.
	signalCount int

	propertyOffset int
	methodOffset   int

	names    map[string]*PropertyData
	handlers map[string]*PropertyData

	defaultProperty string
	// dynamicSlots is the number of dynamic storage slots used by this
	// layer and every parent layer.
	dynamicSlots int

	refs int32
}

func newPropertyCache(parent *PropertyCache, className string) *PropertyCache {
	c := &PropertyCache{
		parent:    parent,
		className: className,
		names:     make(map[string]*PropertyData),
		handlers:  make(map[string]*PropertyData),
	}
	if parent != nil {
		parent.AddRef()
		c.propertyOffset = parent.PropertyCount()
		c.methodOffset = parent.MethodCount()
		c.defaultProperty = parent.defaultProperty
		c.dynamicSlots = parent.dynamicSlots
	}
	return c
}

// AddRef takes a reference on the cache.
func (c *PropertyCache) AddRef() {
	atomic.AddInt32(&c.refs, 1)
}

// Release drops a reference; the last release drops the parent reference.
func (c *PropertyCache) Release() {
	if atomic.AddInt32(&c.refs, -1) == 0 && c.parent != nil {
		c.parent.Release()
	}
}

func (c *PropertyCache) refCount() int32 {
	return atomic.LoadInt32(&c.refs)
}

func (c *PropertyCache) Parent() *PropertyCache { return c.parent }
func (c *PropertyCache) ClassName() string      { return c.className }

// PropertyCount is the number of properties including every parent layer.
func (c *PropertyCache) PropertyCount() int {
	return c.propertyOffset + len(c.properties)
}

// MethodCount is the number of signals and methods including every parent
// layer.
func (c *PropertyCache) MethodCount() int {
	return c.methodOffset + len(c.methods)
}

// Property looks up a property by name, most derived layer first.
func (c *PropertyCache) Property(name string) *PropertyData {
	for l := c; l != nil; l = l.parent {
		if p, ok := l.names[name]; ok {
			if p.isMethodLike() {
				return nil
			}
			return p
		}
	}
	return nil
}

// Member looks up a property, signal or method by name.
func (c *PropertyCache) Member(name string) *PropertyData {
	for l := c; l != nil; l = l.parent {
		if p, ok := l.names[name]; ok {
			return p
		}
	}
	return nil
}

// Signal looks up a signal by name.
func (c *PropertyCache) Signal(name string) *PropertyData {
	if p := c.Member(name); p != nil && p.IsSignal() {
		return p
	}
	return nil
}

// Method looks up a signal or method by name.
func (c *PropertyCache) Method(name string) *PropertyData {
	if p := c.Member(name); p != nil && p.isMethodLike() {
		return p
	}
	return nil
}

// SignalForHandler returns the signal handled by a handler name such as
// "onClicked".
func (c *PropertyCache) SignalForHandler(handler string) *PropertyData {
	for l := c; l != nil; l = l.parent {
		if p, ok := l.handlers[handler]; ok {
			return p
		}
	}
	return nil
}

// PropertyAt returns the property with effective index i.
func (c *PropertyCache) PropertyAt(i int) *PropertyData {
	for l := c; l != nil; l = l.parent {
		if i >= l.propertyOffset {
			if i-l.propertyOffset < len(l.properties) {
				return l.properties[i-l.propertyOffset]
			}
			return nil
		}
	}
	return nil
}

// MethodAt returns the signal or method with effective index i.
func (c *PropertyCache) MethodAt(i int) *PropertyData {
	for l := c; l != nil; l = l.parent {
		if i >= l.methodOffset {
			if i-l.methodOffset < len(l.methods) {
				return l.methods[i-l.methodOffset]
			}
			return nil
		}
	}
	return nil
}

// DefaultProperty returns the property receiving unnamed object bindings.
func (c *PropertyCache) DefaultProperty() *PropertyData {
	if c.defaultProperty == "" {
		return nil
	}
	return c.Property(c.defaultProperty)
}

// Inherits reports whether base is c or one of its parent layers.
func (c *PropertyCache) Inherits(base *PropertyCache) bool {
	for l := c; l != nil; l = l.parent {
		if l == base {
			return true
		}
	}
	return false
}

// inheritsGoType reports whether a native layer of the chain has struct
// type t.
func (c *PropertyCache) inheritsGoType(t reflect.Type) bool {
	for l := c; l != nil; l = l.parent {
		if l.goType == t {
			return true
		}
	}
	return false
}

// nativeLayer returns the most derived native layer.
func (c *PropertyCache) nativeLayer() *PropertyCache {
	for l := c; l != nil; l = l.parent {
		if l.goType != nil {
			return l
		}
	}
	return nil
}

func (c *PropertyCache) appendProperty(p *PropertyData) {
	p.CoreIndex = c.PropertyCount()
	if p.storage == storageDynamic {
		p.slot = c.dynamicSlots
		c.dynamicSlots++
	}
	c.properties = append(c.properties, p)
	c.names[p.Name] = p
}

// appendSignal must be called before any appendMethod on the same layer.
func (c *PropertyCache) appendSignal(p *PropertyData) {
	p.Flags |= FlagSignal | FlagFunction
	p.CoreIndex = c.MethodCount()
	c.methods = append(c.methods, p)
	c.signalCount++
	c.names[p.Name] = p
	c.handlers[handlerName(p.Name)] = p
}

func (c *PropertyCache) appendMethod(p *PropertyData) {
	p.Flags |= FlagFunction
	p.CoreIndex = c.MethodCount()
	c.methods = append(c.methods, p)
	c.names[p.Name] = p
}

// handlerName returns the handler property for a signal: "clicked" is
// handled by "onClicked". A Caser is stateful, so one is made per call.
func handlerName(signal string) string {
	return "on" + cases.Title(language.Und, cases.NoLower).String(signal)
}

func changedSignalName(property string) string {
	return property + "Changed"
}
