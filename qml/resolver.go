package qml

import (
	"fmt"
	"sort"
	"unicode"
)

const (
	// rootComponent is the component index of the document root's tree.
	rootComponent = -1
	unassigned    = -2
)

// compiledData is a document after type resolution, component resolution
// and property cache construction. It is built once per document and
// shared by every creation of it.
type compiledData struct {
	doc *Document

	// Indexed by object.
	types    []TypeRef
	caches   []*PropertyCache
	dynamics []*dynamicMetaData
	// componentOf is the component each object belongs to: the index of its
	// Component object, or rootComponent.
	componentOf []int
	// idIndex is the slot of each object's id in its component's context,
	// or -1.
	idIndex []int
	parents []int

	components     map[int]*componentData
	componentRoots []int
}

// componentData is one component boundary: the tree below a Component
// object, or the document root's tree.
type componentData struct {
	index int
	// root is the object created when the component is instantiated.
	root      int
	idNames   []string
	ids       map[string]int
	idObjects []int
}

func (d *compiledData) isComponentRoot(index int) bool {
	i := sort.SearchInts(d.componentRoots, index)
	return i < len(d.componentRoots) && d.componentRoots[i] == index
}

// compile resolves doc, or returns the cached result. Every error found is
// reported; nothing is returned unless the whole document is valid.
func (e *Engine) compile(doc *Document) (*compiledData, error) {
	if data, ok := e.compiled[doc]; ok {
		return data, nil
	}
	if e.compiling[doc] {
		return nil, ErrorList{newError(TypeResolutionError, doc.URL, Location{}, "Type %s instantiates itself recursively", doc.URL)}
	}
	e.compiling[doc] = true
	defer delete(e.compiling, doc)

	n := len(doc.Objects)
	data := &compiledData{
		doc:         doc,
		types:       make([]TypeRef, n),
		caches:      make([]*PropertyCache, n),
		dynamics:    make([]*dynamicMetaData, n),
		componentOf: make([]int, n),
		idIndex:     make([]int, n),
		parents:     make([]int, n),
		components:  make(map[int]*componentData),
	}

	var errs ErrorList
	fail := func(kind ErrorKind, loc Location, format string, args ...interface{}) {
		errs = append(errs, newError(kind, doc.URL, loc, format, args...))
	}

	if doc.Object(doc.RootIndex) == nil {
		fail(StructuralError, Location{}, "Document has no root object")
		return nil, errs
	}

	// Types
	for i, obj := range doc.Objects {
		data.componentOf[i] = unassigned
		data.idIndex[i] = -1
		data.parents[i] = -1
		if obj.TypeName == "" {
			continue
		}
		t, err := e.ResolveType(obj.TypeName)
		if err != nil {
			fail(TypeResolutionError, obj.Location, "%s is not a type", obj.TypeName)
			continue
		}
		data.types[i] = t
		if t.IsComponent() {
			data.componentRoots = append(data.componentRoots, i)
		}
	}

	// Object tree
	for i, obj := range doc.Objects {
		for _, b := range obj.Bindings {
			if !b.Kind.isObjectLike() {
				continue
			}
			child := b.ObjectIndex
			if doc.Object(child) == nil {
				fail(StructuralError, b.Location, "Binding references unknown object %d", child)
				continue
			}
			if child == doc.RootIndex {
				fail(StructuralError, b.Location, "The root object cannot be assigned to a property")
				continue
			}
			if data.parents[child] >= 0 {
				fail(StructuralError, b.Location, "Object is assigned to more than one property")
				continue
			}
			data.parents[child] = i
			synthetic := doc.Objects[child].TypeName == ""
			if b.Kind == BindingObject && synthetic {
				fail(StructuralError, b.Location, "Object binding to an object without a type")
			} else if b.Kind != BindingObject && !synthetic {
				fail(StructuralError, b.Location, "Attached and group property objects cannot have a type")
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Component boundaries
	sort.Ints(data.componentRoots)
	for _, ci := range data.componentRoots {
		c := doc.Objects[ci]
		switch {
		case len(c.Functions) > 0:
			fail(StructuralError, c.Location, "Component objects cannot declare new functions.")
			continue
		case len(c.Properties) > 0:
			fail(StructuralError, c.Location, "Component objects cannot declare new properties.")
			continue
		case len(c.Signals) > 0:
			fail(StructuralError, c.Location, "Component objects cannot declare new signals.")
			continue
		case len(c.Bindings) == 0:
			fail(StructuralError, c.Location, "Cannot create empty component specification")
			continue
		}
		body := c.Bindings[0]
		if len(c.Bindings) > 1 || body.Kind != BindingObject || body.Property != "" {
			fail(StructuralError, body.Location, "Component elements may not contain properties other than id")
			continue
		}
		if data.isComponentRoot(body.ObjectIndex) {
			fail(StructuralError, body.Location, "Invalid component body specification.")
			continue
		}
		data.components[ci] = &componentData{index: ci, root: body.ObjectIndex, ids: make(map[string]int)}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Walk from the root, stopping at each component boundary to walk the
	// component's body separately.
	data.components[rootComponent] = &componentData{index: rootComponent, root: doc.RootIndex, ids: make(map[string]int)}
	var walk func(index, component int)
	walk = func(index, component int) {
		obj := doc.Objects[index]
		data.componentOf[index] = component
		cd := data.components[component]

		if obj.ID != "" {
			if obj.TypeName == "" {
				fail(StructuralError, obj.IDLocation, "Group and attached property objects cannot have an id")
			} else if msg := checkID(obj.ID); msg != "" {
				fail(StructuralError, obj.IDLocation, "%s", msg)
			} else if _, exists := cd.ids[obj.ID]; exists {
				fail(DuplicateIdError, obj.IDLocation, "id is not unique")
			} else {
				data.idIndex[index] = len(cd.idNames)
				cd.ids[obj.ID] = len(cd.idNames)
				cd.idNames = append(cd.idNames, obj.ID)
				cd.idObjects = append(cd.idObjects, index)
			}
		}

		if data.isComponentRoot(index) {
			if body, ok := data.components[index]; ok {
				walk(body.root, index)
			}
			return
		}
		for _, b := range obj.Bindings {
			if b.Kind.isObjectLike() {
				walk(b.ObjectIndex, component)
			}
		}
	}
	walk(doc.RootIndex, rootComponent)
	if len(errs) > 0 {
		return nil, errs
	}

	// Property caches
	for i, obj := range doc.Objects {
		if data.componentOf[i] == unassigned {
			continue
		}
		t := data.types[i]
		if !t.IsValid() {
			if obj.hasMembers() {
				fail(StructuralError, obj.Location, "Group and attached property objects cannot declare members")
			}
			continue
		}
		base, err := e.typeCache(t)
		if err != nil {
			if list, ok := AsErrors(err); ok {
				errs = append(errs, list...)
			} else {
				fail(TypeResolutionError, obj.Location, "%s", err)
			}
			continue
		}
		cache, meta, cerrs := e.buildPropertyCache(doc, obj, base)
		if len(cerrs) > 0 {
			errs = append(errs, cerrs...)
			continue
		}
		cache.AddRef()
		data.caches[i] = cache
		data.dynamics[i] = meta
	}
	if len(errs) > 0 {
		data.release()
		return nil, errs
	}

	if aerrs := data.resolveAliases(); len(aerrs) > 0 {
		data.release()
		return nil, aerrs
	}

	e.compiled[doc] = data
	e.logger().Debug("document compiled", "url", doc.URL, "objects", n, "components", len(data.componentRoots))
	return data, nil
}

func (d *compiledData) release() {
	for i, c := range d.caches {
		if c != nil {
			c.Release()
			d.caches[i] = nil
		}
	}
}

// resolveAliases points every alias at the id and property it names. An
// alias may target another alias, so resolution repeats until no more
// progress is made.
func (d *compiledData) resolveAliases() ErrorList {
	var errs ErrorList
	var pending []*aliasData
	owners := make(map[*aliasData]int)

	for i, meta := range d.dynamics {
		if meta == nil {
			continue
		}
		cd := d.components[d.componentOf[i]]
		for _, a := range meta.aliases {
			index, ok := cd.ids[a.idName]
			if !ok {
				errs = append(errs, newError(TypeResolutionError, d.doc.URL, a.loc,
					"Invalid alias reference. Unable to find id \"%s\"", a.idName))
				continue
			}
			a.idIndex = index
			owners[a] = cd.idObjects[index]
			pending = append(pending, a)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	for len(pending) > 0 {
		var next []*aliasData
		for _, a := range pending {
			target := owners[a]
			p := a.property
			cache := d.caches[target]

			if a.path == "" {
				p.Type = MetaObject
				p.ElemCache = cache
				p.Flags &^= FlagWritable
				a.resolved = true
				continue
			}

			tp := cache.Property(a.path)
			if tp == nil {
				errs = append(errs, newError(TypeResolutionError, d.doc.URL, a.loc,
					"Invalid alias target location: %s", a.path))
				continue
			}
			if tp.IsAlias() && !d.aliasResolved(tp) {
				next = append(next, a)
				continue
			}
			a.target = tp
			p.Type = tp.Type
			p.ElemType = tp.ElemType
			p.ElemCache = tp.ElemCache
			p.InterfaceID = tp.InterfaceID
			if !tp.IsWritable() && !tp.IsList() {
				p.Flags &^= FlagWritable
			}
			a.resolved = true
		}
		if len(next) == len(pending) {
			for _, a := range next {
				errs = append(errs, newError(TypeResolutionError, d.doc.URL, a.loc,
					"Invalid alias target location: %s", a.path))
			}
			break
		}
		pending = next
	}
	return errs
}

func (d *compiledData) aliasResolved(p *PropertyData) bool {
	for _, meta := range d.dynamics {
		if meta == nil {
			continue
		}
		for _, a := range meta.aliases {
			if a.property == p {
				return a.resolved
			}
		}
	}
	// Declared by another document, resolved when it was compiled.
	return true
}

// checkID returns why id is not a valid id, or an empty string.
func checkID(id string) string {
	for i, r := range id {
		switch {
		case i == 0 && unicode.IsUpper(r):
			return "IDs cannot start with an uppercase letter"
		case i == 0 && r != '_' && !unicode.IsLetter(r):
			return "IDs must start with a letter or underscore"
		case r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r):
			return "IDs must contain only letters, numbers, and underscores"
		}
	}
	if id == "parent" || id == "this" {
		return fmt.Sprintf("ID illegally masks global JavaScript property \"%s\"", id)
	}
	return ""
}
