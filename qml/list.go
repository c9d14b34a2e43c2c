package qml

import (
	"fmt"
	"reflect"
)

// objectList is the storage of a declared list property.
type objectList struct {
	items []*Object
}

// ListReference refers to a list property of one object. Native list
// properties are slice fields of object pointers or interfaces; declared
// ones are stored by the engine.
type ListReference struct {
	object   *Object
	property *PropertyData
}

// List returns a reference to a list property of o.
func (o *Object) List(name string) (*ListReference, error) {
	p := o.cache.Property(name)
	if p == nil || !p.IsList() {
		return nil, fmt.Errorf("object %s has no list property '%s'", o, name)
	}
	return &ListReference{object: o, property: p}, nil
}

func (l *ListReference) Object() *Object  { return l.object }
func (l *ListReference) Property() string { return l.property.Name }

func (l *ListReference) String() string {
	return fmt.Sprintf("%s.%s[%d]", l.object, l.property.Name, l.Count())
}

func (l *ListReference) stored() *objectList {
	ol, _ := l.object.slots[l.property.slot].Opaque().(*objectList)
	if ol == nil {
		ol = &objectList{}
		l.object.slots[l.property.slot] = Opaque(ol)
	}
	return ol
}

// Count returns the number of objects in the list.
func (l *ListReference) Count() int {
	if l.property.storage == storageDynamic {
		return len(l.stored().items)
	}
	return l.object.fieldValue(l.property).Len()
}

// At returns the object at index i, or nil if out of range.
func (l *ListReference) At(i int) *Object {
	if i < 0 || i >= l.Count() {
		return nil
	}
	if l.property.storage == storageDynamic {
		return l.stored().items[i]
	}
	return objectFor(l.object.fieldValue(l.property).Index(i).Interface())
}

// CanAppend reports whether o has the list's element type.
func (l *ListReference) CanAppend(o *Object) bool {
	if o == nil || o.IsDestroyed() {
		return false
	}
	p := l.property
	if p.ElemCache != nil && !o.cache.Inherits(p.ElemCache) {
		return false
	}
	elem := p.ElemType
	if p.storage == storageField {
		elem = p.goType.Elem()
	}
	if elem != nil {
		_, ok := nativeAs(o, elem)
		return ok
	}
	return true
}

// Append adds o to the end of the list.
func (l *ListReference) Append(o *Object) error {
	if !l.CanAppend(o) {
		return fmt.Errorf("Unable to append %s to list property '%s'", o, l.property.Name)
	}
	l.append(o, true)
	return nil
}

func (l *ListReference) append(o *Object, notify bool) {
	if l.property.storage == storageDynamic {
		ol := l.stored()
		ol.items = append(ol.items, o)
	} else {
		field := l.object.fieldValue(l.property)
		elem, _ := nativeAs(o, field.Type().Elem())
		field.Set(reflect.Append(field, elem))
	}
	if notify {
		l.object.notify(l.property)
	}
}

// Clear removes every object from the list.
func (l *ListReference) Clear() {
	l.clear(true)
}

func (l *ListReference) clear(notify bool) {
	if l.Count() == 0 {
		return
	}
	if l.property.storage == storageDynamic {
		l.stored().items = nil
	} else {
		field := l.object.fieldValue(l.property)
		field.Set(reflect.MakeSlice(field.Type(), 0, 0))
	}
	if notify {
		l.object.notify(l.property)
	}
}
