package qml

import (
	"fmt"
	"strings"
)

// dynamicMetaData is the side table of the members one compiled object adds
// to its base type. Declared properties are stored in per-object slots; see
// PropertyCache.dynamicSlots. Aliases are resolved after every cache of the
// document exists.
type dynamicMetaData struct {
	aliases []*aliasData
}

type aliasData struct {
	property *PropertyData
	// idName and idIndex address the target object in the context of the
	// component that declared the alias.
	idName  string
	idIndex int
	// path is the aliased property of the target, empty to alias the
	// object itself.
	path   string
	target *PropertyData

	resolved bool
	loc      Location
}

func parseAliasTarget(expr string) (id, path string, ok bool) {
	parts := strings.Split(expr, ".")
	switch len(parts) {
	case 1:
		return parts[0], "", parts[0] != ""
	case 2:
		return parts[0], parts[1], parts[0] != "" && parts[1] != ""
	default:
		return "", "", false
	}
}

// aliasTarget is an alias bound to a live object.
type aliasTarget struct {
	object   *Object
	property *PropertyData
}

// bindAliases points the aliases declared by meta at objects of ctx, and
// forwards change signals of the aliased properties.
func (o *Object) bindAliases(meta *dynamicMetaData, ctx *ContextData) error {
	if meta == nil || len(meta.aliases) == 0 {
		return nil
	}
	if o.aliases == nil {
		o.aliases = make(map[*PropertyData]*aliasTarget)
	}
	for _, a := range meta.aliases {
		target := ctx.idObjectAt(a.idIndex)
		if target == nil {
			return fmt.Errorf("Invalid alias reference. Unable to find id \"%s\"", a.idName)
		}
		o.aliases[a.property] = &aliasTarget{object: target, property: a.target}
		if a.target != nil && a.target.NotifyIndex >= 0 {
			alias := a.property
			o.aliasSubs = append(o.aliasSubs, subscribe(target, a.target.NotifyIndex, func([]Value) { o.notify(alias) }))
		}
	}
	return nil
}

func (o *Object) readAlias(p *PropertyData) Value {
	t := o.aliases[p]
	if t == nil || t.object.IsDestroyed() {
		return Undefined()
	}
	if t.property == nil {
		return ObjectValue(t.object)
	}
	return t.object.readProperty(t.property)
}

func (o *Object) writeAlias(p *PropertyData, sub int, v Value) error {
	t := o.aliases[p]
	if t == nil {
		return fmt.Errorf("alias '%s' is not resolved", p.Name)
	} else if t.property == nil {
		return fmt.Errorf("alias '%s' refers to an object and is read-only", p.Name)
	} else if t.object.IsDestroyed() {
		return fmt.Errorf("alias '%s' refers to a destroyed object", p.Name)
	}
	return t.object.writeProperty(t.property, sub, v)
}

// aliasResolved reports whether p can be read and written yet.
func (o *Object) aliasResolved(p *PropertyData) bool {
	_, ok := o.aliases[p]
	return ok
}
