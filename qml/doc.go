// Package qml instantiates compiled declarative documents into live trees of Go objects connected by
// reactive property bindings.
//
// A document is produced externally: a flat table of objects, each with a type name, declared members and
// bindings, plus the compiled expressions those bindings reference. The engine resolves the document's types,
// partitions it into components, builds property caches for the types it declares, and creates objects from
// it. Expressions are never parsed here; they arrive as Executable values and are called with a scope to
// resolve names in.
//
// Objects
//
// In the middle of everything is QObject. When QObject is embedded in a struct, that type can be registered
// with the engine and instantiated by documents. The exported fields become properties, exported methods
// are callable functions, and func fields are signals. A change signal is generated for every property.
// QObject also embeds methods for the native implementation, such as reading properties and signalling
// changes.
//
//  // Go
//  type Counter struct {
//      qml.QObject
//      Count int
//      Step  int
//      Overflow func(value int) `qml:"value"`
//  }
//  func (c *Counter) Increment() {
//      c.Count += c.Step
//      c.Changed("count")
//  }
//
//  engine.RegisterType("Counter", &Counter{}, func() qml.QObject { return &Counter{Step: 1} })
//
// Documents may declare further properties, signals and functions on any object. Such an object gets a
// property cache of its own, extending the cache of its type; objects declaring nothing share the cache of
// their type.
//
// Bindings
//
// A script binding ties a property to an expression. While the expression runs, every property it reads is
// recorded; when one of them changes, the expression runs again and the property is updated. At most one
// binding is active per property: installing another disables the first, and so does assigning the property
// directly with SetProperty. An expression that fails is reported to the engine's warning handlers, and the
// property keeps its last value.
//
// Creation
//
// CreateComponent instantiates the document root, or the body of a Component declared in the document.
// Objects are created depth first. Bindings are installed as the objects are created, but are not evaluated
// until every object of the creation exists, so an expression may refer to any id in its component.
// Finalizing a creation activates the bindings in creation order, then calls completion callbacks such as
// ComponentComplete and Component.onCompleted in the order they were queued.
//
// Contexts
//
// Every component instance gets a context: the scope holding the ids of its objects. Contexts form a tree
// below the engine's root context. When the objects created in a context are destroyed, the context is
// invalidated, and the bindings evaluated in it are disabled permanently.
package qml
