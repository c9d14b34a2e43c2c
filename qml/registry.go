package qml

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

type typeKind int

const (
	nativeTypeKind typeKind = iota + 1
	compositeTypeKind
	componentTypeKind
)

// TypeRef is a resolved type name: a registered native type, a composite
// type backed by a document, or the Component pseudo-type.
type TypeRef struct {
	Name string

	kind     typeKind
	native   *registeredType
	document *Document
}

func (t TypeRef) IsValid() bool     { return t.kind != 0 }
func (t TypeRef) IsComposite() bool { return t.kind == compositeTypeKind }
func (t TypeRef) IsComponent() bool { return t.kind == componentTypeKind }

// Document returns the document of a composite type.
func (t TypeRef) Document() *Document { return t.document }

// GoType returns the struct type of a native type, or nil.
func (t TypeRef) GoType() reflect.Type {
	if t.native == nil {
		return nil
	}
	return t.native.ntype.goType
}

type registeredType struct {
	name    string
	ntype   *nativeType
	factory func() QObject
}

type attachedType struct {
	name    string
	ntype   *nativeType
	factory func(attachee *Object) QObject
}

// registry maps type names to native constructors and composite documents.
type registry struct {
	types      map[string]*registeredType
	composites map[string]*Document
	attached   map[string]*attachedType
	interfaces map[string]reflect.Type
}

func newRegistry() registry {
	return registry{
		types:      make(map[string]*registeredType),
		composites: make(map[string]*Document),
		attached:   make(map[string]*attachedType),
		interfaces: make(map[string]reflect.Type),
	}
}

func (r *registry) checkName(name string) error {
	if first, _ := utf8.DecodeRuneInString(name); !unicode.IsUpper(first) {
		return fmt.Errorf("Type '%s' must begin with an upper case letter", name)
	} else if _, exists := r.types[name]; exists {
		return fmt.Errorf("Type '%s' is already registered", name)
	} else if _, exists := r.composites[name]; exists {
		return fmt.Errorf("Type '%s' is already registered", name)
	}
	return nil
}

// RegisterType registers a native type so documents can instantiate it by
// name. t is an instance of the type, used only for its type; factory
// returns a new, uninitialized instance.
//
// QObject supports a few interfaces that are particularly useful with
// instantiable types:
//
//   - If the type has an `InitObject()` method, it's called as the object is allocated
//   - If the type has a `ClassBegin(*Creation)` method, it's called before any property
//     is assigned, with the creation in progress
//   - If the type has a `ComponentComplete()` method, it's called after every binding of
//     the creation is active
func (e *Engine) RegisterType(name string, t QObject, factory func() QObject) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	nt, err := parseType(reflect.TypeOf(t))
	if err != nil {
		return err
	}
	e.types[name] = &registeredType{name: name, ntype: nt, factory: factory}
	return nil
}

// RegisterComposite registers a document as a type. Instantiating it
// creates the document's root object in a context of its own.
func (e *Engine) RegisterComposite(name string, doc *Document) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	e.composites[name] = doc
	return nil
}

// RegisterAttached registers an attached type, available to documents as
// "Name.property: ...". factory is called once per attachee.
func (e *Engine) RegisterAttached(name string, t QObject, factory func(attachee *Object) QObject) error {
	if _, exists := e.attached[name]; exists {
		return fmt.Errorf("Attached type '%s' is already registered", name)
	}
	nt, err := parseType(reflect.TypeOf(t))
	if err != nil {
		return err
	}
	e.attached[name] = &attachedType{name: name, ntype: nt, factory: factory}
	return nil
}

// RegisterInterface registers a Go interface type under id. iface must be
// a nil pointer to the interface, such as (*Shape)(nil). Declared
// properties typed with id accept any object implementing the interface.
func (e *Engine) RegisterInterface(id string, iface interface{}) error {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Interface {
		return fmt.Errorf("Interface '%s' must be registered with a pointer to an interface type", id)
	} else if _, exists := e.interfaces[id]; exists {
		return fmt.Errorf("Interface '%s' is already registered", id)
	}
	e.interfaces[id] = t.Elem()
	return nil
}

// InterfaceCast returns the native value of o if it implements the
// interface registered as id, or nil.
func (e *Engine) InterfaceCast(o *Object, id string) interface{} {
	t, ok := e.interfaces[id]
	if !ok || o == nil || o.IsDestroyed() {
		return nil
	}
	if rv, ok := nativeAs(o, t); ok {
		return rv.Interface()
	}
	return nil
}

// ResolveType looks up a type by name.
func (e *Engine) ResolveType(name string) (TypeRef, error) {
	if name == componentTypeName {
		return TypeRef{Name: name, kind: componentTypeKind, native: e.types[name]}, nil
	}
	if t, ok := e.types[name]; ok {
		return TypeRef{Name: name, kind: nativeTypeKind, native: t}, nil
	}
	if doc, ok := e.composites[name]; ok {
		return TypeRef{Name: name, kind: compositeTypeKind, document: doc}, nil
	}
	return TypeRef{}, &Error{Kind: TypeResolutionError, Description: fmt.Sprintf("%s is not a type", name)}
}

// typeCache returns the property cache instances of a type start from.
func (e *Engine) typeCache(t TypeRef) (*PropertyCache, error) {
	switch t.kind {
	case nativeTypeKind, componentTypeKind:
		return t.native.ntype.cache, nil
	case compositeTypeKind:
		data, err := e.compile(t.document)
		if err != nil {
			return nil, err
		}
		return data.caches[t.document.RootIndex], nil
	}
	return nil, fmt.Errorf("%s is not a type", t.Name)
}
