package qml

import (
	"errors"
	"fmt"
)

// BindingState is the lifecycle state of a Binding.
type BindingState int

const (
	// BindingPending bindings are installed but have not evaluated yet.
	BindingPending BindingState = iota
	// BindingActive bindings re-evaluate when a dependency changes.
	BindingActive
	// BindingDisabled bindings were superseded or lost their context. They
	// never evaluate again.
	BindingDisabled
	BindingDestroyed
)

func (s BindingState) String() string {
	switch s {
	case BindingPending:
		return "pending"
	case BindingActive:
		return "active"
	case BindingDisabled:
		return "disabled"
	case BindingDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

var errBindingLoop = errors.New("Binding loop detected")

type bindingKey struct {
	property int
	sub      int
}

// bindingRef addresses a binding in the engine's arena. A ref to a
// destroyed binding resolves to nil, even if the slot was reused.
type bindingRef struct {
	index int
	gen   uint32
}

type bindingSlot struct {
	binding *Binding
	gen     uint32
}

// bindingArena holds every live binding of an engine. It does not own the
// bindings; it is the index used to activate and tear them down in bulk.
type bindingArena struct {
	slots []bindingSlot
	free  []int
	live  int
}

func (a *bindingArena) insert(b *Binding) bindingRef {
	var index int
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = len(a.slots)
		a.slots = append(a.slots, bindingSlot{})
	}
	a.slots[index].binding = b
	a.live++
	return bindingRef{index: index, gen: a.slots[index].gen}
}

func (a *bindingArena) get(r bindingRef) *Binding {
	if r.index < 0 || r.index >= len(a.slots) {
		return nil
	}
	s := a.slots[r.index]
	if s.gen != r.gen {
		return nil
	}
	return s.binding
}

func (a *bindingArena) remove(r bindingRef) {
	if a.get(r) == nil {
		return
	}
	a.slots[r.index].binding = nil
	a.slots[r.index].gen++
	a.free = append(a.free, r.index)
	a.live--
}

// Binding associates one target property, optionally one field of a value
// type property, with an expression and the context it evaluates in.
type Binding struct {
	engine *Engine
	ref    bindingRef

	target   *Object
	property *PropertyData
	// sub is the field of a value type property, or -1.
	sub int

	fn      *Function
	context *ContextData
	scope   *Object

	state    BindingState
	deps     []subscription
	updating bool

	url string
	loc Location
}

func (b *Binding) State() BindingState { return b.state }
func (b *Binding) Target() *Object     { return b.target }
func (b *Binding) Property() string    { return b.property.Name }

// Index is the binding's slot in the engine's binding arena, or -1 once it
// is destroyed.
func (b *Binding) Index() int {
	if b.state == BindingDestroyed {
		return -1
	}
	return b.ref.index
}

// Install creates a pending binding of fn on a property of target,
// evaluated in ctx with target as the scope object. An existing binding on
// the property is disabled.
func (e *Engine) Install(target *Object, property string, fn *Function, ctx *ContextData) (*Binding, error) {
	if target.IsDestroyed() {
		return nil, fmt.Errorf("object %s is destroyed", target)
	}
	p := target.cache.Property(property)
	if p == nil {
		return nil, fmt.Errorf("object %s has no property '%s'", target, property)
	} else if !p.IsWritable() {
		return nil, fmt.Errorf("property '%s' of %s is read-only", property, target)
	} else if fn == nil || fn.Code == nil {
		return nil, errors.New("binding has no code")
	}
	if ctx == nil {
		ctx = target.context
	}
	url := ""
	if ctx != nil {
		url = ctx.url
	}
	return e.installBinding(target, p, -1, fn, ctx, target, url, Location{}), nil
}

func (e *Engine) installBinding(target *Object, p *PropertyData, sub int, fn *Function, ctx *ContextData, scope *Object, url string, loc Location) *Binding {
	b := &Binding{
		engine:   e,
		target:   target,
		property: p,
		sub:      sub,
		fn:       fn,
		context:  ctx,
		scope:    scope,
		state:    BindingPending,
		url:      url,
		loc:      loc,
	}

	// At most one binding per target; whole-property and sub-property
	// bindings on the same property supersede each other.
	target.removeBindings(p, sub)

	b.ref = e.bindings.insert(b)
	target.bindings[bindingKey{p.CoreIndex, sub}] = b.ref
	target.targeted = append(target.targeted, b.ref)
	if ctx != nil {
		ctx.bindings = append(ctx.bindings, b.ref)
	}
	return b
}

// Activate evaluates a pending binding once, writes the result, and makes it
// re-evaluate whenever a property it read changes.
func (b *Binding) Activate() {
	if b.state != BindingPending {
		return
	}
	b.state = BindingActive
	b.update()
}

// Disable stops the binding permanently. The target keeps its last value.
func (b *Binding) Disable() {
	if b.state == BindingDisabled || b.state == BindingDestroyed {
		return
	}
	b.state = BindingDisabled
	b.unsubscribe()
	if t := b.target; t.bindings != nil {
		key := bindingKey{b.property.CoreIndex, b.sub}
		if ref, ok := t.bindings[key]; ok && ref == b.ref {
			delete(t.bindings, key)
		}
	}
}

// Destroy disables the binding and releases its arena slot.
func (b *Binding) Destroy() {
	if b.state == BindingDestroyed {
		return
	}
	b.Disable()
	b.state = BindingDestroyed
	b.engine.bindings.remove(b.ref)
	b.ref = bindingRef{index: -1}
}

// Evaluate runs the expression and returns its value without writing it.
// A disabled binding, or one whose context was invalidated, returns
// undefined and no error without running the expression.
func (b *Binding) Evaluate() (Value, error) {
	if b.state == BindingDisabled || b.state == BindingDestroyed {
		return Undefined(), nil
	}
	if b.context != nil && !b.context.valid {
		b.Disable()
		return Undefined(), nil
	}

	e := b.engine
	e.beginCapture()
	v, err := b.fn.call(b.scope, newScope(b.scope, b.context, nil, nil))
	deps := e.endCapture()

	if b.state == BindingActive {
		b.subscribe(deps)
	}
	if err != nil {
		e.reportError(evaluationError(b.url, b.loc, err))
		return Undefined(), err
	}
	return v, nil
}

// update evaluates an active binding and writes the result to its target.
func (b *Binding) update() {
	if b.state != BindingActive {
		return
	}
	e := b.engine
	if b.updating {
		e.reportError(newError(ExpressionEvaluationError, b.url, b.loc,
			"%s for property \"%s\"", errBindingLoop, b.property.Name))
		return
	}
	if max := e.opts.maxBindingDepth; max > 0 && e.bindingDepth >= max {
		e.reportError(newError(ExpressionEvaluationError, b.url, b.loc,
			"Maximum binding depth of %d exceeded for property \"%s\"", max, b.property.Name))
		return
	}

	b.updating = true
	e.bindingDepth++
	defer func() {
		b.updating = false
		e.bindingDepth--
	}()

	v, err := b.Evaluate()
	if err != nil || b.state != BindingActive {
		return
	}
	if err := b.target.writeProperty(b.property, b.sub, v); err != nil {
		e.reportError(newError(PropertyConversionError, b.url, b.loc, "%s", err))
	}
}

func (b *Binding) subscribe(deps []dependency) {
	b.unsubscribe()
	for _, d := range deps {
		b.deps = append(b.deps, subscribe(d.object, d.signal, func([]Value) { b.update() }))
	}
}

func (b *Binding) unsubscribe() {
	for _, s := range b.deps {
		s.cancel()
	}
	b.deps = nil
}

type dependency struct {
	object *Object
	signal int
}

// captureFrame collects the notify signals of properties read while one
// binding evaluates.
type captureFrame struct {
	deps []dependency
	seen map[dependency]bool
}

func (e *Engine) beginCapture() {
	e.captures = append(e.captures, &captureFrame{seen: make(map[dependency]bool)})
}

func (e *Engine) endCapture() []dependency {
	n := len(e.captures)
	f := e.captures[n-1]
	e.captures = e.captures[:n-1]
	return f.deps
}

func (e *Engine) capture(o *Object, signal int) {
	if signal < 0 || len(e.captures) == 0 {
		return
	}
	f := e.captures[len(e.captures)-1]
	d := dependency{o, signal}
	if !f.seen[d] {
		f.seen[d] = true
		f.deps = append(f.deps, d)
	}
}

// withoutCapture runs fn with dependency capture suspended, for expressions
// such as signal handlers that run inside a binding evaluation but do not
// belong to it.
func (e *Engine) withoutCapture(fn func()) {
	saved := e.captures
	e.captures = nil
	defer func() { e.captures = saved }()
	fn()
}
