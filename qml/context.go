package qml

// ContextData is one level of the scope chain: the ids and objects of one
// instantiated component. Contexts form a tree below the engine's root
// context.
//
// A context is referenced by the objects created directly in it. When the
// last of them is destroyed, or the object owning the context is, the
// context is invalidated: every binding anchored to it is permanently
// disabled and its child contexts are invalidated too.
type ContextData struct {
	engine   *Engine
	parent   *ContextData
	children []*ContextData
	url      string

	// ids is addressed by the index the component resolver assigned to
	// each id; idNames holds the matching names.
	idNames []string
	ids     []*Object

	objects       []*Object
	contextObject *Object
	// linked chains contexts merged into this one, such as the outer
	// document of a composite type's root object.
	linked *ContextData

	properties map[string]Value
	bindings   []bindingRef
	refs       int
	valid      bool
}

func newContext(e *Engine, parent *ContextData, url string, idNames []string) *ContextData {
	c := &ContextData{
		engine:  e,
		parent:  parent,
		url:     url,
		idNames: idNames,
		ids:     make([]*Object, len(idNames)),
		valid:   true,
	}
	if parent != nil {
		parent.children = append(parent.children, c)
	}
	return c
}

func (c *ContextData) Parent() *ContextData   { return c.parent }
func (c *ContextData) URL() string            { return c.url }
func (c *ContextData) IsValid() bool          { return c.valid }
func (c *ContextData) ContextObject() *Object { return c.contextObject }

// Objects returns the objects created directly in this context.
func (c *ContextData) Objects() []*Object {
	return append([]*Object(nil), c.objects...)
}

// IDObject returns the object registered under id in this context or a
// context linked to it.
func (c *ContextData) IDObject(id string) *Object {
	for l := c; l != nil; l = l.linked {
		for i, name := range l.idNames {
			if name == id && i < len(l.ids) {
				return l.ids[i]
			}
		}
	}
	return nil
}

func (c *ContextData) idObjectAt(index int) *Object {
	if index < 0 || index >= len(c.ids) {
		return nil
	}
	return c.ids[index]
}

func (c *ContextData) setID(index int, o *Object) {
	if index >= 0 && index < len(c.ids) {
		c.ids[index] = o
	}
}

// SetContextProperty makes value visible by name to every expression
// evaluated in this context or its children. Ids take precedence.
func (c *ContextData) SetContextProperty(name string, value interface{}) {
	if c.properties == nil {
		c.properties = make(map[string]Value)
	}
	c.properties[name] = ValueOf(value)
}

// Lookup resolves a name: ids first, then linked contexts, then context
// properties and the context object's properties, then the parent context.
func (c *ContextData) Lookup(name string) (Value, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if !ctx.valid {
			return Undefined(), false
		}
		if o := ctx.IDObject(name); o != nil {
			return ObjectValue(o), true
		}
		if v, ok := ctx.properties[name]; ok {
			return v, true
		}
		if co := ctx.contextObject; co != nil && !co.IsDestroyed() {
			if p := co.cache.Property(name); p != nil {
				return co.readProperty(p), true
			}
		}
	}
	return Undefined(), false
}

func (c *ContextData) addObject(o *Object) {
	o.context = c
	c.objects = append(c.objects, o)
	c.refs++
}

func (c *ContextData) releaseObject(o *Object) {
	for i, obj := range c.objects {
		if obj == o {
			c.objects = append(c.objects[:i], c.objects[i+1:]...)
			c.refs--
			break
		}
	}
	for i, obj := range c.ids {
		if obj == o {
			c.ids[i] = nil
		}
	}
	if c.refs == 0 && c.parent != nil {
		c.Invalidate()
	}
}

// link appends other to the chain of contexts linked to c.
func (c *ContextData) link(other *ContextData) {
	l := c
	for l.linked != nil {
		if l == other {
			return
		}
		l = l.linked
	}
	if l != other {
		l.linked = other
	}
}

// Invalidate tears the context down. Bindings anchored to it are disabled
// and never evaluate again; child contexts are invalidated first.
func (c *ContextData) Invalidate() {
	if !c.valid {
		return
	}
	c.valid = false

	for len(c.children) > 0 {
		child := c.children[0]
		child.Invalidate()
		if len(c.children) > 0 && c.children[0] == child {
			c.children = c.children[1:]
		}
	}

	for _, ref := range c.bindings {
		if b := c.engine.bindings.get(ref); b != nil {
			b.Disable()
		}
	}
	c.bindings = nil
	c.ids = nil
	c.properties = nil

	if c.parent != nil {
		for i, sibling := range c.parent.children {
			if sibling == c {
				c.parent.children = append(c.parent.children[:i], c.parent.children[i+1:]...)
				break
			}
		}
	}
	c.engine.logger().Debug("context invalidated", "url", c.url)
}

// Scope is the environment an expression is evaluated in.
type Scope interface {
	// Lookup resolves a free name of the expression.
	Lookup(name string) (Value, bool)
	Context() *ContextData
	// ScopeObject is the object whose properties are in scope, usually the
	// object the binding or handler was declared on.
	ScopeObject() *Object
}

// scopeChain resolves names as parameters, ids of the context, properties
// of the scope object, then the rest of the context chain.
type scopeChain struct {
	object  *Object
	context *ContextData
	names   []string
	args    []Value
}

func newScope(object *Object, context *ContextData, names []string, args []Value) *scopeChain {
	return &scopeChain{object: object, context: context, names: names, args: args}
}

func (s *scopeChain) Lookup(name string) (Value, bool) {
	for i, n := range s.names {
		if n == name {
			if i < len(s.args) {
				return s.args[i], true
			}
			return Undefined(), true
		}
	}
	if s.context != nil && s.context.valid {
		if o := s.context.IDObject(name); o != nil {
			return ObjectValue(o), true
		}
	}
	if s.object != nil && !s.object.IsDestroyed() {
		if p := s.object.cache.Property(name); p != nil {
			return s.object.readProperty(p), true
		}
	}
	if s.context != nil {
		return s.context.Lookup(name)
	}
	return Undefined(), false
}

func (s *scopeChain) Context() *ContextData { return s.context }
func (s *scopeChain) ScopeObject() *Object  { return s.object }
