package qml

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"sort"

	uuid "github.com/satori/go.uuid"
)

// The QObject interface must be embedded in any struct that is instantiated
// by the engine as a native type.
//
// The QObject field is initialized by the engine when it allocates the
// object. Its methods are promoted to the struct, so a *T embedding QObject
// can read and write its own properties, emit signals and so on.
type QObject interface {
	Engine() *Engine
	Identifier() string

	// Property reads a property by name. Reads made while a binding is
	// evaluated become dependencies of that binding.
	Property(name string) (Value, error)
	// SetProperty writes a property by name, removing any binding on it.
	SetProperty(name string, value interface{}) error
	// Invoke calls a method, converting arguments as necessary.
	Invoke(method string, args ...interface{}) (Value, error)
	// Emit emits the named signal synchronously.
	Emit(signal string, args ...interface{})
	// Changed emits the change signal of a property. It must be called after
	// modifying a property field directly.
	Changed(property string)
	// Connect calls handler every time signal is emitted.
	Connect(signal string, handler func(args ...Value)) error

	Parent() *Object
	Context() *ContextData
	Destroy()
}

// If a type embedding QObject implements QObjectHasInit, InitObject is
// called immediately after QObject is initialized, before any property is
// assigned.
type QObjectHasInit interface {
	QObject
	InitObject()
}

// QObjectHasClassBegin types receive the creation that allocated them. The
// Creation can be used to queue completion callbacks or to create further
// components as part of the same creation.
type QObjectHasClassBegin interface {
	QObject
	ClassBegin(c *Creation)
}

// QObjectHasComponentComplete types are called once their creation has
// activated every binding, in creation order.
type QObjectHasComponentComplete interface {
	QObject
	ComponentComplete()
}

// CreationState is the progress of one object through its creation.
type CreationState int

const (
	StateAllocated CreationState = iota
	StatePropertiesBound
	StateFunctionsBound
	StateFinalized
	StateErrored
)

func (s CreationState) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StatePropertiesBound:
		return "properties bound"
	case StateFunctionsBound:
		return "functions bound"
	case StateFinalized:
		return "finalized"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var errNotQObject = errors.New("Struct does not embed QObject")

// Object is the engine's record of one instance. It implements QObject and
// is stored in the QObject field of the native struct.
type Object struct {
	engine *Engine
	id     string
	// index is the slot in the engine's object arena, -1 once destroyed.
	index int

	native QObject
	ntype  *nativeType
	cache  *PropertyCache

	slots     []Value
	functions map[*PropertyData]*boundFunction
	aliases   map[*PropertyData]*aliasTarget
	// aliasSubs forward change signals of alias targets.
	aliasSubs []subscription

	objectName string
	parent     *Object
	children   []*Object
	context    *ContextData
	ownContext *ContextData

	// bindings holds the current binding of each target; targeted holds
	// every binding ever installed on this object.
	bindings    map[bindingKey]bindingRef
	targeted    []bindingRef
	connections map[int][]*connection
	attached    map[string]*Object

	state CreationState
	url   string
	loc   Location
	// compiledIndex is the object's index in the document it was created
	// from.
	compiledIndex int
}

// QObjectFor returns true if obj embeds QObject, and the *Object it was
// initialized with, if any.
func QObjectFor(obj interface{}) (bool, QObject) {
	if o, ok := obj.(*Object); ok {
		if o == nil {
			return true, nil
		}
		return true, o
	}
	if _, ok := obj.(QObject); !ok {
		return false, nil
	}
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return true, nil
	}
	v = reflect.Indirect(v)
	if v.Kind() != reflect.Struct {
		return false, nil
	}
	f := v.FieldByName("QObject")
	if !f.IsValid() {
		return false, nil
	}
	if f.IsNil() {
		return true, nil
	}
	o, _ := f.Interface().(*Object)
	if o == nil {
		return true, nil
	}
	return true, o
}

// objectFor returns the *Object of an initialized native value.
func objectFor(obj interface{}) *Object {
	if _, q := QObjectFor(obj); q != nil {
		o, _ := q.(*Object)
		return o
	}
	return nil
}

// initObject allocates the record for a native value, writes it into the
// embedded QObject field and sets up native signals.
func initObject(e *Engine, native QObject, nt *nativeType, cache *PropertyCache) (*Object, error) {
	value := reflect.Indirect(reflect.ValueOf(native))
	if !value.IsValid() || value.Kind() != reflect.Struct {
		return nil, errNotQObject
	}
	field := value.FieldByName("QObject")
	if !field.IsValid() {
		return nil, errNotQObject
	}
	if !field.IsNil() {
		return nil, fmt.Errorf("object of type '%s' is already initialized", value.Type().Name())
	}

	u, _ := uuid.NewV4()
	o := &Object{
		engine:      e,
		id:          u.String(),
		index:       -1,
		native:      native,
		ntype:       nt,
		bindings:    make(map[bindingKey]bindingRef),
		connections: make(map[int][]*connection),
	}
	o.setCache(cache)

	// Write to the QObject embedded field
	field.Set(reflect.ValueOf(o))

	o.initSignals()
	e.addObject(o)

	if io, ok := native.(QObjectHasInit); ok {
		io.InitObject()
	}
	return o, nil
}

// initSignals assigns a function emitting the signal to every nil signal
// field of the native struct.
func (o *Object) initSignals() {
	v := reflect.ValueOf(o.native).Elem()
	for l := o.cache.nativeLayer(); l != nil; l = l.parent {
		for _, m := range l.methods {
			path, isField := o.ntype.fieldPaths[m]
			if !m.IsSignal() || !isField {
				continue
			}
			field := v.FieldByIndex(path)
			if !field.IsNil() {
				continue
			}
			index := m.CoreIndex
			f := reflect.MakeFunc(field.Type(), func(args []reflect.Value) []reflect.Value {
				o.emitReflected(index, args)
				return nil
			})
			field.Set(f)
		}
	}
}

// setCache replaces the cache of o with c, which must extend the current
// cache. New dynamic slots are initialized to their defaults.
func (o *Object) setCache(c *PropertyCache) {
	if c == o.cache {
		return
	}
	c.AddRef()
	if o.cache != nil {
		o.cache.Release()
	}
	o.cache = c

	if n := c.dynamicSlots; n > len(o.slots) {
		slots := make([]Value, n)
		copy(slots, o.slots)
		o.slots = slots
	}
	for l := c; l != nil; l = l.parent {
		for _, p := range l.properties {
			if p.storage != storageDynamic || p.IsAlias() || !o.slots[p.slot].IsUndefined() {
				continue
			}
			o.slots[p.slot] = defaultValue(p)
		}
	}
}

func (o *Object) Engine() *Engine       { return o.engine }
func (o *Object) Identifier() string    { return o.id }
func (o *Object) Parent() *Object       { return o.parent }
func (o *Object) Context() *ContextData { return o.context }
func (o *Object) Cache() *PropertyCache { return o.cache }
func (o *Object) Native() QObject       { return o.native }
func (o *Object) ObjectName() string    { return o.objectName }
func (o *Object) State() CreationState  { return o.state }

// Location returns the document URL and position o was declared at.
func (o *Object) Location() (string, Location) {
	return o.url, o.loc
}

// Children returns the objects parented to o, in the order they were
// parented.
func (o *Object) Children() []*Object {
	return append([]*Object(nil), o.children...)
}

// IsDestroyed reports whether Destroy was called on o or an ancestor.
func (o *Object) IsDestroyed() bool {
	return o.index < 0
}

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	if o.objectName != "" {
		return fmt.Sprintf("%s(%s, %q)", o.cache.ClassName(), o.id, o.objectName)
	}
	return fmt.Sprintf("%s(%s)", o.cache.ClassName(), o.id)
}

func (o *Object) setParent(parent *Object) {
	if o.parent == parent {
		return
	}
	if o.parent != nil {
		o.parent.removeChild(o)
	}
	o.parent = parent
	if parent != nil {
		parent.children = append(parent.children, o)
	}
	o.notify(rootCache.Property("parent"))
}

func (o *Object) removeChild(child *Object) {
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

func (o *Object) Property(name string) (Value, error) {
	if o.IsDestroyed() {
		return Undefined(), fmt.Errorf("object %s is destroyed", o)
	}
	p := o.cache.Property(name)
	if p == nil {
		return Undefined(), fmt.Errorf("object %s has no property '%s'", o, name)
	}
	return o.readProperty(p), nil
}

// readProperty reads p, recording the read as a dependency of the binding
// being evaluated, if any.
func (o *Object) readProperty(p *PropertyData) Value {
	o.engine.capture(o, p.NotifyIndex)

	if p.IsList() {
		return Opaque(&ListReference{object: o, property: p})
	}

	switch p.storage {
	case storageBuiltin:
		switch p.Name {
		case "objectName":
			return String(o.objectName)
		case "parent":
			return ObjectValue(o.parent)
		}
	case storageField:
		return ValueOf(o.fieldValue(p).Interface())
	case storageDynamic:
		if p.IsAlias() {
			return o.readAlias(p)
		}
		return o.slots[p.slot]
	}
	return Undefined()
}

func (o *Object) fieldValue(p *PropertyData) reflect.Value {
	return reflect.ValueOf(o.native).Elem().FieldByIndex(o.ntype.fieldPaths[p])
}

func (o *Object) SetProperty(name string, value interface{}) error {
	if o.IsDestroyed() {
		return fmt.Errorf("object %s is destroyed", o)
	}
	p := o.cache.Property(name)
	if p == nil {
		return fmt.Errorf("object %s has no property '%s'", o, name)
	} else if !p.IsWritable() && !p.IsList() {
		return fmt.Errorf("property '%s' of %s is read-only", name, o)
	}
	o.removeBindings(p, -1)
	return o.writeProperty(p, -1, ValueOf(value))
}

// writeProperty stores v in p, or in field sub of a value type property, and
// emits the change signal if the stored value changed. Bindings on p are
// left alone.
func (o *Object) writeProperty(p *PropertyData, sub int, v Value) error {
	if p.IsAlias() {
		return o.writeAlias(p, sub, v)
	}
	if p.IsList() {
		return o.writeList(p, v)
	}
	if sub >= 0 {
		composed, err := composeValueType(o.readStored(p), sub, v)
		if err != nil {
			return err
		}
		v = composed
	}

	switch p.storage {
	case storageBuiltin:
		if p.Name != "objectName" {
			return fmt.Errorf("property '%s' is read-only", p.Name)
		}
		s := v.ToString()
		if v.IsNullish() {
			s = ""
		}
		if s == o.objectName {
			return nil
		}
		o.objectName = s

	case storageField:
		field := o.fieldValue(p)
		nv, err := toGoValue(v, field.Type(), p.Type)
		if err != nil {
			return err
		}
		if sameGoValue(field, nv) {
			return nil
		}
		field.Set(nv)

	case storageDynamic:
		nv, err := coerceDynamic(p, v)
		if err != nil {
			return err
		}
		if o.slots[p.slot].Equal(nv) && o.slots[p.slot].Kind() == nv.Kind() {
			return nil
		}
		o.slots[p.slot] = nv

	default:
		return fmt.Errorf("property '%s' has no storage", p.Name)
	}

	o.notify(p)
	return nil
}

// readStored reads p without recording a dependency.
func (o *Object) readStored(p *PropertyData) Value {
	switch p.storage {
	case storageField:
		return ValueOf(o.fieldValue(p).Interface())
	case storageDynamic:
		return o.slots[p.slot]
	}
	return Undefined()
}

func (o *Object) writeList(p *PropertyData, v Value) error {
	l := &ListReference{object: o, property: p}
	var items []*Object
	switch {
	case v.IsNullish():
	case v.Kind() == ObjectKind:
		items = []*Object{v.Object()}
	default:
		src, ok := v.Opaque().(*ListReference)
		if !ok {
			return fmt.Errorf("Unable to assign %s to list property '%s'", v.Kind(), p.Name)
		}
		for i := 0; i < src.Count(); i++ {
			items = append(items, src.At(i))
		}
	}
	for _, item := range items {
		if !l.CanAppend(item) {
			return fmt.Errorf("Unable to assign %s to list property '%s'", item, p.Name)
		}
	}
	l.clear(false)
	for _, item := range items {
		l.append(item, false)
	}
	o.notify(p)
	return nil
}

func sameGoValue(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice:
		return false
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

func (o *Object) Changed(property string) {
	if p := o.cache.Property(property); p != nil {
		o.notify(p)
	}
}

func (o *Object) notify(p *PropertyData) {
	if p != nil && p.NotifyIndex >= 0 {
		o.emit(p.NotifyIndex, nil)
	}
}

// Binding returns the binding currently installed on a property, or nil.
func (o *Object) Binding(property string) *Binding {
	p := o.cache.Property(property)
	if p == nil {
		return nil
	}
	ref, ok := o.bindings[bindingKey{p.CoreIndex, -1}]
	if !ok {
		return nil
	}
	return o.engine.bindings.get(ref)
}

// removeBindings disables the bindings that a write to p, or to field sub
// of p, supersedes.
func (o *Object) removeBindings(p *PropertyData, sub int) {
	for key, ref := range o.bindings {
		if key.property != p.CoreIndex || (sub >= 0 && key.sub >= 0 && key.sub != sub) {
			continue
		}
		if b := o.engine.bindings.get(ref); b != nil {
			b.Disable()
		}
		delete(o.bindings, key)
	}
}

// Invoke calls the named method of the object, converting or
// unmarshaling parameters as necessary. Calling a signal emits it.
func (o *Object) Invoke(methodName string, inArgs ...interface{}) (Value, error) {
	if o.IsDestroyed() {
		return Undefined(), fmt.Errorf("object %s is destroyed", o)
	}
	m := o.cache.Method(methodName)
	if m == nil {
		return Undefined(), errors.New("method does not exist")
	}

	if m.IsSignal() {
		o.Emit(methodName, inArgs...)
		return Undefined(), nil
	}

	if m.IsDynamic() {
		fn := o.functions[m]
		if fn == nil {
			return Undefined(), fmt.Errorf("function %s is not bound", methodName)
		}
		args := make([]Value, len(inArgs))
		for i, a := range inArgs {
			args[i] = ValueOf(a)
		}
		return fn.call(args)
	}

	method := reflect.ValueOf(o.native).MethodByName(m.goField)
	if !method.IsValid() {
		return Undefined(), errors.New("method does not exist")
	}
	methodType := method.Type()

	if len(inArgs) != methodType.NumIn() {
		return Undefined(), fmt.Errorf("wrong number of arguments for %s; expected %d, provided %d",
			methodName, methodType.NumIn(), len(inArgs))
	}

	callArgs := make([]reflect.Value, methodType.NumIn())
	for i, inArg := range inArgs {
		callArg, err := convertArgument(inArg, methodType.In(i))
		if err != nil {
			return Undefined(), fmt.Errorf("wrong type for argument %d to %s; %s", i, methodName, err)
		}
		callArgs[i] = callArg
	}

	returnValues := method.Call(callArgs)

	// An error return value is returned as the error, the first other
	// value as the result.
	result := Undefined()
	haveResult := false
	for _, value := range returnValues {
		if value.Type().Implements(errorGoType) {
			if !value.IsNil() {
				return result, value.Interface().(error)
			}
			continue
		}
		if !haveResult {
			result = ValueOf(value.Interface())
			haveResult = true
		}
	}
	return result, nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// convertArgument matches an argument to argType, converting or
// unmarshaling it if possible.
func convertArgument(inArg interface{}, argType reflect.Type) (reflect.Value, error) {
	if v, ok := inArg.(Value); ok && argType != valueGoType {
		inArg = v.Interface()
	}
	if o, ok := inArg.(*Object); ok && o != nil && argType != reflect.TypeOf(o) {
		if rv, ok := nativeAs(o, argType); ok {
			return rv, nil
		}
		inArg = o.native
	}

	inArgValue := reflect.ValueOf(inArg)
	switch {
	case inArgValue.Kind() == reflect.Invalid:
		// Zero value, argument is nil
		return reflect.Zero(argType), nil
	case inArgValue.Type() == argType:
		return inArgValue, nil
	case argType == valueGoType:
		return reflect.ValueOf(ValueOf(inArg)), nil
	case inArgValue.Type().AssignableTo(argType):
		return inArgValue, nil
	case inArgValue.Type().ConvertibleTo(argType) && inArgValue.Kind() != reflect.String:
		return inArgValue.Convert(argType), nil
	case inArgValue.Kind() == reflect.String:
		// Attempt to unmarshal via TextUnmarshaler, directly or by pointer
		var callArg reflect.Value
		var umArg encoding.TextUnmarshaler
		if argType.Implements(textUnmarshalerType) && argType.Kind() == reflect.Ptr {
			callArg = reflect.New(argType.Elem())
			umArg = callArg.Interface().(encoding.TextUnmarshaler)
		} else if reflect.PtrTo(argType).Implements(textUnmarshalerType) {
			ptr := reflect.New(argType)
			umArg = ptr.Interface().(encoding.TextUnmarshaler)
			callArg = ptr.Elem()
		} else if argType.Kind() == reflect.String {
			return inArgValue.Convert(argType), nil
		}
		if umArg != nil {
			if err := umArg.UnmarshalText([]byte(inArgValue.String())); err != nil {
				return reflect.Value{}, fmt.Errorf("expected %s, unmarshal failed: %s", argType, err)
			}
			return callArg, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("expected %s, provided %s", argType, inArgValue.Type())
}

// nativeAs returns the native value of o as type t. For pointer types this
// includes the address of an embedded QObject struct of that type.
func nativeAs(o *Object, t reflect.Type) (reflect.Value, bool) {
	rv := reflect.ValueOf(o.native)
	if rv.Type().AssignableTo(t) {
		return rv, true
	}
	if t.Kind() != reflect.Ptr {
		return reflect.Value{}, false
	}

	v := rv.Elem()
	for v.Kind() == reflect.Struct {
		next := reflect.Value{}
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			if f.Anonymous && f.Type.Kind() == reflect.Struct && typeIsQObject(f.Type) {
				next = v.Field(i)
				break
			}
		}
		if !next.IsValid() || !next.CanAddr() {
			break
		}
		if next.Type() == t.Elem() {
			addr := next.Addr()
			if !addr.CanInterface() {
				break
			}
			return addr, true
		}
		v = next
	}
	return reflect.Value{}, false
}

func (o *Object) Emit(signal string, args ...interface{}) {
	if o.IsDestroyed() {
		return
	}
	s := o.cache.Signal(signal)
	if s == nil {
		o.engine.logger().Warn("emit of unknown signal", "object", o.String(), "signal", signal)
		return
	}
	values := make([]Value, len(args))
	for i, a := range args {
		values[i] = ValueOf(a)
	}
	o.emit(s.CoreIndex, values)
}

func (o *Object) emitReflected(index int, args []reflect.Value) {
	if o.IsDestroyed() {
		return
	}
	values := make([]Value, 0, len(args))
	for _, a := range args {
		values = append(values, ValueOf(a.Interface()))
	}
	o.emit(index, values)
}

func (o *Object) Connect(signal string, handler func(args ...Value)) error {
	s := o.cache.Signal(signal)
	if s == nil {
		return fmt.Errorf("object %s has no signal '%s'", o, signal)
	}
	o.connect(s.CoreIndex, &connection{call: func(args []Value) { handler(args...) }})
	return nil
}

// Attached returns the attached object of the named attached type, if it
// has been created.
func (o *Object) Attached(name string) *Object {
	return o.attached[name]
}

// Destroy destroys o and every object parented to it. Objects are torn
// down in creation order, not tree order.
func (o *Object) Destroy() {
	if o.IsDestroyed() {
		return
	}

	var all []*Object
	var collect func(*Object)
	collect = func(obj *Object) {
		if obj.IsDestroyed() {
			return
		}
		all = append(all, obj)
		for _, c := range obj.children {
			collect(c)
		}
		for _, a := range obj.attached {
			collect(a)
		}
	}
	collect(o)
	sort.SliceStable(all, func(i, j int) bool { return all[i].index < all[j].index })

	if o.parent != nil {
		o.parent.removeChild(o)
	}

	destroyed := rootCache.Signal("destroyed").CoreIndex
	for _, obj := range all {
		if ca, ok := obj.native.(*ComponentAttached); ok && ca.Destruction != nil {
			ca.Destruction()
		}
		obj.emit(destroyed, nil)
	}
	for _, obj := range all {
		obj.teardown()
	}
}

func (o *Object) teardown() {
	e := o.engine
	for _, ref := range o.targeted {
		if b := e.bindings.get(ref); b != nil {
			b.Destroy()
		}
	}
	o.targeted = nil
	o.bindings = nil

	for _, list := range o.connections {
		for _, c := range list {
			c.dead = true
		}
	}
	o.connections = nil
	for _, s := range o.aliasSubs {
		s.cancel()
	}
	o.aliasSubs = nil

	if o.ownContext != nil {
		o.ownContext.Invalidate()
	}
	if o.context != nil {
		o.context.releaseObject(o)
	}

	e.removeObject(o)
	o.index = -1
	o.cache.Release()
	e.logger().Debug("object destroyed", "object", o.String())
}
