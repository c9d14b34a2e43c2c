package qml

import (
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
)

// Engine owns the type registry, the compiled documents and every object
// instantiated from them. An engine is not safe for concurrent use; all
// creation and evaluation happens on the goroutine that drives it.
type Engine struct {
	registry

	opts options

	compiled  map[*Document]*compiledData
	compiling map[*Document]bool

	// root is the parent of every top-level context. It is never
	// invalidated by object destruction.
	root *ContextData

	objects []*Object
	byID    map[string]*Object

	bindings     bindingArena
	captures     []*captureFrame
	bindingDepth int

	// creation is the creation in progress, if any. Component.Create
	// joins it rather than finalizing on its own.
	creation *Creation

	warnings ErrorList
}

type options struct {
	logger          *slog.Logger
	warningHandlers []func(*Error)
	baseURL         *url.URL
	converters      map[reflect.Type]func(string) (interface{}, error)
	maxBindingDepth int
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger of the engine, instead of the package-wide
// logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithWarningHandler adds a function called with every error reported while
// objects are live, such as expression evaluation errors.
func WithWarningHandler(fn func(*Error)) Option {
	return func(o *options) { o.warningHandlers = append(o.warningHandlers, fn) }
}

// WithBaseURL sets the URL that url literals of documents without a URL are
// resolved against.
func WithBaseURL(u *url.URL) Option {
	return func(o *options) { o.baseURL = u }
}

// WithStringConverter registers a converter from string literals to a
// custom property type t.
func WithStringConverter(t reflect.Type, fn func(string) (interface{}, error)) Option {
	return func(o *options) { o.converters[t] = fn }
}

// WithMaxBindingDepth limits how deeply binding updates may trigger one
// another. Zero means no limit.
func WithMaxBindingDepth(n int) Option {
	return func(o *options) { o.maxBindingDepth = n }
}

const defaultMaxBindingDepth = 100

// NewEngine creates an engine with the builtin types registered.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		registry:  newRegistry(),
		compiled:  make(map[*Document]*compiledData),
		compiling: make(map[*Document]bool),
		byID:      make(map[string]*Object),
		opts: options{
			converters:      make(map[reflect.Type]func(string) (interface{}, error)),
			maxBindingDepth: defaultMaxBindingDepth,
		},
	}
	for _, opt := range opts {
		opt(&e.opts)
	}
	e.root = newContext(e, nil, "", nil)

	if err := e.RegisterType("QtObject", &QtObject{}, func() QObject { return &QtObject{} }); err != nil {
		panic(err)
	}
	nt, err := parseType(reflect.TypeOf(&Component{}))
	if err != nil {
		panic(err)
	}
	e.types[componentTypeName] = &registeredType{name: componentTypeName, ntype: nt}
	if err := e.RegisterAttached(componentTypeName, &ComponentAttached{}, func(*Object) QObject { return &ComponentAttached{} }); err != nil {
		panic(err)
	}
	return e
}

// QtObject is the plain object type. It has no members of its own and is
// commonly used as a holder for declared properties.
type QtObject struct {
	QObject
}

func (e *Engine) logger() *slog.Logger {
	if e.opts.logger != nil {
		return e.opts.logger
	}
	return Logger()
}

// reportError records an error raised while objects are live. It never
// interrupts the caller.
func (e *Engine) reportError(err *Error) {
	e.logger().Warn(err.Description, "url", err.URL, "line", err.Line, "column", err.Column, "kind", err.Kind.String())
	e.warnings = append(e.warnings, err)
	for _, h := range e.opts.warningHandlers {
		h(err)
	}
}

// Warnings returns every error reported while objects were live, oldest
// first.
func (e *Engine) Warnings() ErrorList {
	return append(ErrorList(nil), e.warnings...)
}

// ClearWarnings forgets the reported errors.
func (e *Engine) ClearWarnings() {
	e.warnings = nil
}

// RootContext returns the context every top-level creation is a child of.
// Context properties set on it are visible to every document.
func (e *Engine) RootContext() *ContextData {
	return e.root
}

// Object returns the live object with the given identifier, or nil.
func (e *Engine) Object(id string) *Object {
	return e.byID[id]
}

// ObjectCount returns the number of live objects.
func (e *Engine) ObjectCount() int {
	return len(e.byID)
}

// BindingCount returns the number of bindings that were installed and not
// yet destroyed.
func (e *Engine) BindingCount() int {
	return e.bindings.live
}

// addObject places o in the object arena. Arena order is creation order,
// which is the order objects are torn down in.
func (e *Engine) addObject(o *Object) {
	o.index = len(e.objects)
	e.objects = append(e.objects, o)
	e.byID[o.id] = o
}

func (e *Engine) removeObject(o *Object) {
	if o.index >= 0 && o.index < len(e.objects) && e.objects[o.index] == o {
		e.objects[o.index] = nil
	}
	delete(e.byID, o.id)
	if len(e.byID) == 0 {
		e.objects = e.objects[:0]
	}
}

// Compile resolves the types and components of doc and builds its property
// caches. Every error found is returned as an ErrorList. Documents are
// compiled once; creating one compiles it as needed.
func (e *Engine) Compile(doc *Document) error {
	_, err := e.compile(doc)
	return err
}

// CreateComponent instantiates a component of doc with the given parent,
// and activates its bindings. componentIndex is the index of a Component
// object of the document, or -1 for the document's root object.
//
// Compile errors return no object. If creation fails part way, the objects
// created so far are returned with the error and are left as they are; the
// caller is expected to destroy them.
func (e *Engine) CreateComponent(doc *Document, componentIndex int, parent *Object) (*Object, error) {
	data, err := e.compile(doc)
	if err != nil {
		return nil, err
	}
	if componentIndex != rootComponent && !data.isComponentRoot(componentIndex) {
		return nil, fmt.Errorf("object %d of %s is not a component", componentIndex, doc.URL)
	}

	creation := e.creation
	if creation == nil {
		creation = newCreation(e)
	}
	root, err := creation.createComponent(data, componentIndex, parent, e.root)
	if err != nil {
		return root, err
	}
	if creation != e.creation {
		creation.finalize()
	}
	return root, nil
}

// Create instantiates the root object of doc.
func (e *Engine) Create(doc *Document) (*Object, error) {
	return e.CreateComponent(doc, rootComponent, nil)
}
