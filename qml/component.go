package qml

import "fmt"

const componentTypeName = "Component"

// Component is an uninstantiated component declared inline in a document,
// such as "Component { Rectangle {} }". Its body is instantiated on demand
// by Create, in a context that is a child of the context the Component was
// declared in.
type Component struct {
	QObject

	data            *compiledData
	index           int
	creationContext *ContextData
}

// Create instantiates the component's body with the given parent. During
// another creation, the new objects join it and their bindings activate
// when it finalizes.
func (c *Component) Create(parent *Object) (*Object, error) {
	if c.data == nil {
		return nil, fmt.Errorf("component is not ready")
	}
	ctx := c.creationContext
	if ctx == nil || !ctx.IsValid() {
		return nil, fmt.Errorf("component's creation context was destroyed")
	}

	e := c.Engine()
	creation := e.creation
	if creation == nil {
		creation = newCreation(e)
	}
	root, err := creation.createComponent(c.data, c.index, parent, ctx)
	if err != nil {
		return root, err
	}
	if !creation.finalized && e.creation == nil {
		creation.finalize()
	}
	return root, nil
}

// ComponentAttached is the object attached by "Component.onCompleted" and
// "Component.onDestruction" handlers.
type ComponentAttached struct {
	QObject

	// Completed is emitted once the creation of the attachee finalized.
	Completed func()
	// Destruction is emitted as the attachee is destroyed.
	Destruction func()
}

func (a *ComponentAttached) ClassBegin(c *Creation) {
	o := objectFor(a)
	c.OnCompleted(func() {
		if o != nil && !o.IsDestroyed() {
			a.Completed()
		}
	})
}
