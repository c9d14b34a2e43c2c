package qml

import "fmt"

// connection is one receiver of a signal. Dead connections are skipped and
// pruned on the next emit.
type connection struct {
	call func(args []Value)
	dead bool
}

func (o *Object) connect(signal int, c *connection) {
	if o.connections == nil {
		// Destroyed; the connection never fires.
		c.dead = true
		return
	}
	o.connections[signal] = append(o.connections[signal], c)
}

// disconnect kills c and removes it from the receivers of signal.
func (o *Object) disconnect(signal int, c *connection) {
	c.dead = true
	list := o.connections[signal]
	for i, x := range list {
		if x == c {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(o.connections, signal)
	} else {
		o.connections[signal] = list
	}
}

// subscription is a connection made on a signal of another object, held
// by the receiver so it can detach.
type subscription struct {
	object *Object
	signal int
	conn   *connection
}

func subscribe(o *Object, signal int, call func(args []Value)) subscription {
	c := &connection{call: call}
	o.connect(signal, c)
	return subscription{object: o, signal: signal, conn: c}
}

func (s subscription) cancel() {
	s.object.disconnect(s.signal, s.conn)
}

// emit calls every connection of a signal in connection order. Connections
// made while emitting are not called until the next emit.
func (o *Object) emit(signal int, args []Value) {
	list := o.connections[signal]
	if len(list) == 0 {
		return
	}
	snapshot := append([]*connection(nil), list...)
	for _, c := range snapshot {
		if !c.dead {
			c.call(args)
		}
	}

	if o.connections == nil {
		return
	}
	live := o.connections[signal][:0]
	for _, c := range o.connections[signal] {
		if !c.dead {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		delete(o.connections, signal)
	} else {
		o.connections[signal] = live
	}
}

// boundSignal is a signal handler declared in a document, such as
// "onClicked: ...".
type boundSignal struct {
	fn      *Function
	context *ContextData
	scope   *Object
	signal  *PropertyData
	url     string
	loc     Location
	conn    *connection
}

// connectHandler installs a handler expression for signal on o. Handler
// parameters are in scope under the signal's parameter names.
func (o *Object) connectHandler(signal *PropertyData, fn *Function, ctx *ContextData, scope *Object, url string, loc Location) *boundSignal {
	h := &boundSignal{
		fn:      fn,
		context: ctx,
		scope:   scope,
		signal:  signal,
		url:     url,
		loc:     loc,
	}
	h.conn = &connection{call: h.run}
	o.connect(signal.CoreIndex, h.conn)
	return h
}

// run executes the handler. Errors are reported and never propagate to the
// emitter or to other handlers.
func (h *boundSignal) run(args []Value) {
	if h.context != nil && !h.context.valid {
		h.conn.dead = true
		return
	}
	e := h.scope.engine
	e.withoutCapture(func() {
		scope := newScope(h.scope, h.context, h.signal.Parameters, args)
		if _, err := h.fn.call(h.scope, scope, args...); err != nil {
			e.reportError(evaluationError(h.url, h.loc, err))
		}
	})
}

// boundFunction is a function declared in a document, callable as a method
// of the object it was declared on.
type boundFunction struct {
	fn      *Function
	context *ContextData
	this    *Object
}

func (f *boundFunction) call(args []Value) (Value, error) {
	if f.context != nil && !f.context.valid {
		return Undefined(), fmt.Errorf("function %s called after its context was destroyed", f.fn.Name)
	}
	return f.fn.call(f.this, newScope(f.this, f.context, f.fn.Formals, args), args...)
}
