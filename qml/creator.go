package qml

import (
	"fmt"
	"reflect"
)

// Creation is one request to instantiate a component, including every
// nested creation made while it is in progress. Bindings installed by the
// creation stay pending, and completion callbacks stay queued, until the
// outermost creation finalizes.
//
// A Creation is passed to native types implementing QObjectHasClassBegin.
type Creation struct {
	engine *Engine

	pending     []bindingRef
	completions []func()
	objects     []*Object

	finalized bool
}

func newCreation(e *Engine) *Creation {
	return &Creation{engine: e}
}

func (c *Creation) Engine() *Engine { return c.engine }

// OnCompleted queues fn to run after every binding of the creation is
// active. Callbacks run in the order they were queued; a callback may queue
// more. After the creation finalized, fn is called immediately.
func (c *Creation) OnCompleted(fn func()) {
	if c.finalized {
		fn()
		return
	}
	c.completions = append(c.completions, fn)
}

// CreateComponent instantiates a component of doc as part of this
// creation. Its bindings activate when the creation finalizes, or right
// away if it already has.
func (c *Creation) CreateComponent(doc *Document, componentIndex int, parent *Object) (*Object, error) {
	data, err := c.engine.compile(doc)
	if err != nil {
		return nil, err
	}
	return c.createComponent(data, componentIndex, parent, c.engine.root)
}

func (c *Creation) createComponent(data *compiledData, componentIndex int, parent *Object, parentContext *ContextData) (*Object, error) {
	e := c.engine
	saved := e.creation
	e.creation = c
	defer func() { e.creation = saved }()

	oc := &objectCreator{creation: c, data: data}
	root, err := oc.create(componentIndex, parent, parentContext)
	if err != nil {
		return root, ErrorList{err}
	}
	if c.finalized {
		c.finalize()
	}
	return root, nil
}

// PopulateInstance applies the bindings of object index of doc to an
// existing instance, using cache to resolve property names. It is used for
// objects the engine did not allocate itself, such as attached objects.
func (c *Creation) PopulateInstance(doc *Document, index int, instance *Object, cache *PropertyCache) error {
	data, err := c.engine.compile(doc)
	if err != nil {
		return err
	}
	if doc.Object(index) == nil {
		return fmt.Errorf("document has no object %d", index)
	}
	if cache == nil {
		cache = instance.cache
	}
	ctx := instance.context
	if ctx == nil {
		ctx = c.engine.root
	}

	oc := &objectCreator{creation: c, data: data, context: ctx}
	if perr := oc.populateInstance(index, instance, cache); perr != nil {
		return ErrorList{perr}
	}
	if perr := oc.runDeferred(); perr != nil {
		return ErrorList{perr}
	}
	if c.finalized {
		c.finalize()
	}
	return nil
}

// finalize activates every pending binding in creation order, then drains
// the completion queue. Work queued by either step is picked up until both
// are empty.
func (c *Creation) finalize() {
	e := c.engine
	saved := e.creation
	e.creation = c
	defer func() { e.creation = saved }()

	for len(c.pending) > 0 || len(c.completions) > 0 {
		for len(c.pending) > 0 {
			ref := c.pending[0]
			c.pending = c.pending[1:]
			if b := e.bindings.get(ref); b != nil {
				b.Activate()
			}
		}
		if len(c.completions) > 0 {
			fn := c.completions[0]
			c.completions = c.completions[1:]
			fn()
		}
	}

	c.finalized = true

	for _, o := range c.objects {
		if !o.IsDestroyed() && o.state == StateFunctionsBound {
			o.state = StateFinalized
		}
	}
	c.objects = nil
	e.logger().Debug("creation finalized")
}

// objectCreator instantiates the objects of one component into one
// context.
type objectCreator struct {
	creation  *Creation
	data      *compiledData
	component *componentData
	context   *ContextData

	created []*Object
	// deferred writes target aliases, which are bound once every object of
	// the component exists.
	deferred []func() *Error
}

func (oc *objectCreator) engine() *Engine { return oc.creation.engine }
func (oc *objectCreator) url() string     { return oc.data.doc.URL }

func (oc *objectCreator) error(kind ErrorKind, loc Location, format string, args ...interface{}) *Error {
	return newError(kind, oc.url(), loc, format, args...)
}

// create instantiates a component in a new context below parentContext.
func (oc *objectCreator) create(componentIndex int, parent *Object, parentContext *ContextData) (*Object, *Error) {
	e := oc.engine()
	cd := oc.data.components[componentIndex]
	if cd == nil {
		return nil, oc.error(StructuralError, Location{}, "Invalid component index %d", componentIndex)
	}
	oc.component = cd
	oc.context = newContext(e, parentContext, oc.url(), cd.idNames)
	e.logger().Debug("creating component", "url", oc.url(), "component", componentIndex)

	root, err := oc.createInstance(cd.root, parent, true)
	if err == nil {
		err = oc.bindAliases()
	}
	if err == nil {
		err = oc.runDeferred()
	}
	if err != nil {
		for _, o := range oc.created {
			o.state = StateErrored
		}
		if root == nil {
			oc.context.Invalidate()
		}
		return root, err
	}
	return root, nil
}

func (oc *objectCreator) bindAliases() *Error {
	for _, o := range oc.created {
		index := o.compiledIndex
		if err := o.bindAliases(oc.data.dynamics[index], oc.context); err != nil {
			return oc.error(TypeResolutionError, oc.data.doc.Objects[index].Location, "%s", err)
		}
	}
	return nil
}

func (oc *objectCreator) runDeferred() *Error {
	for len(oc.deferred) > 0 {
		fn := oc.deferred[0]
		oc.deferred = oc.deferred[1:]
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// createInstance allocates the object at index, registers it in the
// context and applies its bindings.
func (oc *objectCreator) createInstance(index int, parent *Object, isContextObject bool) (*Object, *Error) {
	e := oc.engine()
	c := oc.creation
	obj := oc.data.doc.Objects[index]
	t := oc.data.types[index]
	cache := oc.data.caches[index]

	var o *Object
	switch {
	case t.IsComponent():
		native := &Component{data: oc.data, index: index, creationContext: oc.context}
		var err error
		if o, err = initObject(e, native, t.native.ntype, cache); err != nil {
			return nil, oc.error(TypeResolutionError, obj.Location, "%s", err)
		}

	case t.IsComposite():
		inner, err := e.compile(t.document)
		if err != nil {
			return nil, oc.error(TypeResolutionError, obj.Location, "%s", err)
		}
		sub := &objectCreator{creation: c, data: inner}
		o, serr := sub.create(rootComponent, parent, oc.context)
		if serr != nil {
			return o, serr
		}
		o.setCache(cache)
		if isContextObject {
			// The composite's own context chains to the context its
			// instance is the root of.
			o.context.link(oc.context)
		}
		return oc.populateCreated(index, o, isContextObject)

	default:
		native := t.native.factory()
		var err error
		if o, err = initObject(e, native, t.native.ntype, cache); err != nil {
			return nil, oc.error(TypeResolutionError, obj.Location, "%s", err)
		}
		if cb, ok := native.(QObjectHasClassBegin); ok {
			cb.ClassBegin(c)
		}
		if cc, ok := native.(QObjectHasComponentComplete); ok {
			c.OnCompleted(func() {
				if !o.IsDestroyed() {
					cc.ComponentComplete()
				}
			})
		}
	}

	if parent != nil {
		o.setParent(parent)
	}
	oc.context.addObject(o)
	return oc.populateCreated(index, o, isContextObject)
}

// populateCreated finishes an allocated object: ownership, id and
// bindings.
func (oc *objectCreator) populateCreated(index int, o *Object, isContextObject bool) (*Object, *Error) {
	obj := oc.data.doc.Objects[index]
	o.url = oc.url()
	o.loc = obj.Location
	o.compiledIndex = index
	oc.created = append(oc.created, o)
	oc.creation.objects = append(oc.creation.objects, o)

	if isContextObject {
		oc.context.contextObject = o
		o.ownContext = oc.context
	}
	if id := oc.data.idIndex[index]; id >= 0 {
		oc.context.setID(id, o)
	}

	if oc.data.types[index].IsComponent() {
		o.state = StateFunctionsBound
		return o, nil
	}
	if err := oc.populateInstance(index, o, o.cache); err != nil {
		o.state = StateErrored
		return o, err
	}
	return o, nil
}

// populateInstance applies the bindings and functions of object index to
// target, resolving names through cache.
func (oc *objectCreator) populateInstance(index int, target *Object, cache *PropertyCache) *Error {
	obj := oc.data.doc.Objects[index]
	if err := oc.setupBindings(obj, target, cache); err != nil {
		return err
	}
	if target.state < StatePropertiesBound {
		target.state = StatePropertiesBound
	}
	oc.setupFunctions(obj, target, cache)
	if target.state < StateFunctionsBound {
		target.state = StateFunctionsBound
	}
	return nil
}

// setupBindings walks the binding table in runs of the same property,
// resolving the property once per run. Object bindings to list properties
// append to the list in order.
func (oc *objectCreator) setupBindings(obj *CompiledObject, target *Object, cache *PropertyCache) *Error {
	var p *PropertyData
	var list *ListReference
	for i, b := range obj.Bindings {
		if i == 0 || obj.Bindings[i-1].Property != b.Property {
			p, list = nil, nil
			if b.Property != "" {
				p = cache.Property(b.Property)
			} else if b.Kind == BindingObject {
				p = cache.DefaultProperty()
			}
			if p != nil && p.IsList() {
				list = &ListReference{object: target, property: p}
			}
		}
		if err := oc.setPropertyValue(target, cache, p, list, b); err != nil {
			return err
		}
	}
	return nil
}

func (oc *objectCreator) setPropertyValue(target *Object, cache *PropertyCache, p *PropertyData, list *ListReference, b *BindingDecl) *Error {
	switch b.Kind {
	case BindingAttachedProperty:
		return oc.setAttached(target, b)
	case BindingGroupProperty:
		if p == nil {
			return oc.error(AssignmentError, b.Location, "Cannot assign to non-existent property \"%s\"", b.Property)
		}
		return oc.setGroup(target, p, b)
	}

	if b.Kind == BindingScript && b.SignalHandler {
		s := cache.SignalForHandler(b.Property)
		if s == nil {
			return oc.error(AssignmentError, b.Location, "Cannot assign to non-existent property \"%s\"", b.Property)
		}
		fn := oc.data.doc.Functions[b.FunctionIndex]
		target.connectHandler(s, fn, oc.context, target, oc.url(), b.Location)
		return nil
	}

	var child *Object
	if b.Kind == BindingObject {
		var err *Error
		if child, err = oc.createInstance(b.ObjectIndex, target, false); err != nil {
			return err
		}
		if p == nil && b.Property == "" {
			// A plain child without a default property to receive it
			return nil
		}
	}

	if p == nil {
		return oc.error(AssignmentError, b.Location, "Cannot assign to non-existent property \"%s\"", b.Property)
	}
	if !p.IsWritable() && !p.IsList() && !declaredBy(cache, p) {
		return oc.error(AssignmentError, b.Location, "Invalid property assignment: \"%s\" is a read-only property", p.Name)
	}

	if p.IsAlias() && !target.aliasResolved(p) {
		oc.deferred = append(oc.deferred, func() *Error {
			return oc.assign(target, p, list, b, child)
		})
		return nil
	}
	return oc.assign(target, p, list, b, child)
}

// assign writes one script, object or literal binding to p.
func (oc *objectCreator) assign(target *Object, p *PropertyData, list *ListReference, b *BindingDecl, child *Object) *Error {
	e := oc.engine()
	switch b.Kind {
	case BindingScript:
		fn := oc.data.doc.Functions[b.FunctionIndex]
		binding := e.installBinding(target, p, -1, fn, oc.context, target, oc.url(), b.Location)
		oc.creation.pending = append(oc.creation.pending, binding.ref)
		return nil

	case BindingObject:
		return oc.assignObject(target, p, list, b, child)
	}

	v, cerr := e.convertLiteral(oc.url(), p, b)
	if cerr != nil {
		return cerr
	}
	target.removeBindings(p, -1)
	if err := target.writeProperty(p, -1, v); err != nil {
		return oc.error(PropertyConversionError, b.Location, "Invalid property assignment: %s", err)
	}
	return nil
}

// assignObject stores a created child in p: through an interface cast, as
// a derived object, boxed in a var, or appended to a list.
func (oc *objectCreator) assignObject(target *Object, p *PropertyData, list *ListReference, b *BindingDecl, child *Object) *Error {
	v := ObjectValue(child)
	switch {
	case p.IsList():
		if list == nil {
			list = &ListReference{object: target, property: p}
		}
		if !list.CanAppend(child) {
			return oc.error(AssignmentError, b.Location, "Cannot assign object to list property \"%s\"", p.Name)
		}
		list.append(child, true)
		return nil

	case p.Type == MetaInterface:
		if p.ElemType != nil {
			if _, ok := nativeAs(child, p.ElemType); !ok {
				return oc.error(AssignmentError, b.Location, "Cannot assign object to interface property")
			}
		}

	case p.Type == MetaVar || p.Type == MetaVariant:

	case p.Type == MetaObject:
		if !objectAssignable(child, p) {
			return oc.error(AssignmentError, b.Location, "Cannot assign object to property")
		}

	default:
		return oc.error(AssignmentError, b.Location, "Cannot assign object to property")
	}

	target.removeBindings(p, -1)
	if err := target.writeProperty(p, -1, v); err != nil {
		return oc.error(AssignmentError, b.Location, "Cannot assign object to property")
	}
	return nil
}

// setAttached creates the attached object of the named type for target,
// if needed, and populates it.
func (oc *objectCreator) setAttached(target *Object, b *BindingDecl) *Error {
	e := oc.engine()
	at, ok := e.attached[b.Property]
	if !ok {
		return oc.error(TypeResolutionError, b.Location, "Non-existent attached object")
	}

	a := target.attached[b.Property]
	if a == nil {
		native := at.factory(target)
		var err error
		if a, err = initObject(e, native, at.ntype, at.ntype.cache); err != nil {
			return oc.error(TypeResolutionError, b.Location, "%s", err)
		}
		a.url, a.loc = oc.url(), b.Location
		if target.attached == nil {
			target.attached = make(map[string]*Object)
		}
		target.attached[b.Property] = a
		if cb, ok := native.(QObjectHasClassBegin); ok {
			cb.ClassBegin(oc.creation)
		}
	}
	return oc.populateInstance(b.ObjectIndex, a, a.cache)
}

// setGroup applies a group such as "font { bold: true }". Object valued
// properties populate the object they hold; value type properties are
// assigned field by field.
func (oc *objectCreator) setGroup(target *Object, p *PropertyData, b *BindingDecl) *Error {
	group := oc.data.doc.Objects[b.ObjectIndex]

	if goType := propertyGoType(p); goType != nil && isValueType(goType) {
		return oc.setValueTypeGroup(target, p, goType, group)
	}

	v := target.readStored(p)
	if p.storage == storageBuiltin || v.Kind() != ObjectKind || v.Object() == nil {
		return oc.error(AssignmentError, b.Location, "Invalid grouped property access")
	}
	inner := v.Object()
	return oc.populateInstance(b.ObjectIndex, inner, inner.cache)
}

func (oc *objectCreator) setValueTypeGroup(target *Object, p *PropertyData, goType reflect.Type, group *CompiledObject) *Error {
	e := oc.engine()
	for _, gb := range group.Bindings {
		sub, ok := valueTypeField(goType, gb.Property)
		if !ok {
			return oc.error(AssignmentError, gb.Location, "Cannot assign to non-existent property \"%s\"", gb.Property)
		}
		switch gb.Kind {
		case BindingScript:
			if gb.SignalHandler {
				return oc.error(AssignmentError, gb.Location, "Cannot assign to non-existent property \"%s\"", gb.Property)
			}
			fn := oc.data.doc.Functions[gb.FunctionIndex]
			binding := e.installBinding(target, p, sub, fn, oc.context, target, oc.url(), gb.Location)
			oc.creation.pending = append(oc.creation.pending, binding.ref)
		case BindingNumber, BindingBoolean, BindingString:
			mt, _ := metaTypeFor(goType.Field(sub).Type, fieldOptions{})
			field := &PropertyData{Name: gb.Property, Type: mt, NotifyIndex: -1}
			v, cerr := e.convertLiteral(oc.url(), field, gb)
			if cerr != nil {
				return cerr
			}
			target.removeBindings(p, sub)
			if err := target.writeProperty(p, sub, v); err != nil {
				return oc.error(PropertyConversionError, gb.Location, "Invalid property assignment: %s", err)
			}
		default:
			return oc.error(AssignmentError, gb.Location, "Invalid grouped property access")
		}
	}
	return nil
}

// setupFunctions binds the functions the object declares as methods of
// the instance.
func (oc *objectCreator) setupFunctions(obj *CompiledObject, target *Object, cache *PropertyCache) {
	for _, index := range obj.Functions {
		fn := oc.data.doc.Functions[index]
		m := cache.Method(fn.Name)
		if m == nil || !m.IsDynamic() || m.IsSignal() {
			continue
		}
		if target.functions == nil {
			target.functions = make(map[*PropertyData]*boundFunction)
		}
		target.functions[m] = &boundFunction{fn: fn, context: oc.context, this: target}
	}
}

// declaredBy reports whether p is declared by the document layer of cache
// itself. Read-only declared properties may be initialized there.
func declaredBy(cache *PropertyCache, p *PropertyData) bool {
	if !p.IsDynamic() || cache.goType != nil {
		return false
	}
	for _, q := range cache.properties {
		if q == p {
			return true
		}
	}
	return false
}
