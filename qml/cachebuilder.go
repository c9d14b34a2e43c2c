package qml

import (
	"fmt"
	"sync/atomic"
)

// builtinPropertyTypes maps the builtin declared property types to their
// property type. Custom and alias types are resolved separately.
var builtinPropertyTypes = [...]MetaType{
	TypeVar:        MetaVar,
	TypeVariant:    MetaVariant,
	TypeInt:        MetaInt,
	TypeBool:       MetaBool,
	TypeReal:       MetaDouble,
	TypeString:     MetaString,
	TypeUrl:        MetaUrl,
	TypeColor:      MetaColor,
	TypeFont:       MetaFont,
	TypeTime:       MetaTime,
	TypeDate:       MetaDate,
	TypeDateTime:   MetaDateTime,
	TypeRect:       MetaRect,
	TypePoint:      MetaPoint,
	TypeSize:       MetaSize,
	TypeVector2D:   MetaVector2D,
	TypeVector3D:   MetaVector3D,
	TypeVector4D:   MetaVector4D,
	TypeMatrix4x4:  MetaMatrix4x4,
	TypeQuaternion: MetaQuaternion,
}

var dynamicClassCount int64

const (
	duplicateSignal = "Duplicate signal name: invalid override of property change signal or superclass signal"
	duplicateMethod = "Duplicate method name: invalid override of property change signal or superclass signal"
)

// buildPropertyCache extends base with the members declared by obj. An
// object that declares nothing shares base itself.
func (e *Engine) buildPropertyCache(doc *Document, obj *CompiledObject, base *PropertyCache) (*PropertyCache, *dynamicMetaData, ErrorList) {
	if !obj.hasMembers() {
		return base, nil, nil
	}

	var errs ErrorList
	fail := func(kind ErrorKind, loc Location, format string, args ...interface{}) {
		errs = append(errs, newError(kind, doc.URL, loc, format, args...))
	}

	cache := newPropertyCache(base, fmt.Sprintf("%s_QML_%d", base.ClassName(), atomic.AddInt64(&dynamicClassCount, 1)))
	meta := &dynamicMetaData{}

	// Reserved names: the well-known base signals and every inherited one.
	reserved := make(map[string]bool)
	for _, name := range reservedSignals {
		reserved[name] = true
	}
	for l := base; l != nil; l = l.parent {
		for _, m := range l.methods {
			if m.IsSignal() {
				reserved[m.Name] = true
			}
		}
	}

	// Properties by category; change signals are generated in this order.
	var plain, vars, aliases []*PropertyDecl
	seen := make(map[string]bool)
	for _, p := range obj.Properties {
		if seen[p.Name] {
			fail(DuplicateMemberError, p.Location, "Duplicate property name")
			continue
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeAlias:
			aliases = append(aliases, p)
		case TypeVar:
			vars = append(vars, p)
		default:
			plain = append(plain, p)
		}
	}

	for _, group := range [][]*PropertyDecl{plain, vars, aliases} {
		for _, p := range group {
			name := changedSignalName(p.Name)
			if reserved[name] {
				fail(DuplicateMemberError, p.Location, duplicateSignal)
				continue
			}
			reserved[name] = true
			cache.appendSignal(&PropertyData{Name: name, NotifyIndex: -1, Flags: FlagDynamic})
		}
	}

	for _, s := range obj.Signals {
		if reserved[s.Name] {
			fail(DuplicateMemberError, s.Location, duplicateSignal)
			continue
		}
		reserved[s.Name] = true
		sd := &PropertyData{Name: s.Name, NotifyIndex: -1, Flags: FlagDynamic}
		for _, param := range s.Parameters {
			mt := MetaVar
			if param.Type < TypeAlias {
				mt = builtinPropertyTypes[param.Type]
			}
			sd.Parameters = append(sd.Parameters, param.Name)
			sd.ParameterTypes = append(sd.ParameterTypes, mt)
		}
		if len(sd.Parameters) > 0 {
			sd.Flags |= FlagHasArguments
		}
		cache.appendSignal(sd)
	}

	for _, index := range obj.Functions {
		fn := doc.Functions[index]
		if reserved[fn.Name] || cache.names[fn.Name] != nil {
			fail(DuplicateMemberError, obj.Location, duplicateMethod)
			continue
		}
		reserved[fn.Name] = true
		md := &PropertyData{Name: fn.Name, NotifyIndex: -1, Flags: FlagDynamic, Parameters: fn.Formals}
		for range fn.Formals {
			md.ParameterTypes = append(md.ParameterTypes, MetaVar)
		}
		if len(md.Parameters) > 0 {
			md.Flags |= FlagHasArguments
		}
		cache.appendMethod(md)
	}

	for _, group := range [][]*PropertyDecl{plain, vars, aliases} {
		for _, p := range group {
			if cache.names[p.Name] != nil {
				fail(DuplicateMemberError, p.Location, "Property name %s collides with a signal or method", p.Name)
				continue
			}
			notify := cache.Signal(changedSignalName(p.Name))
			if notify == nil {
				// Already reported as a duplicate signal
				continue
			}
			pd := &PropertyData{
				Name:        p.Name,
				NotifyIndex: notify.CoreIndex,
				Flags:       FlagDynamic,
				storage:     storageDynamic,
			}
			if !p.ReadOnly {
				pd.Flags |= FlagWritable
			}

			switch p.Type {
			case TypeAlias:
				pd.Type = MetaVar
				pd.Flags |= FlagAlias
				id, path, ok := parseAliasTarget(p.AliasTarget)
				if !ok {
					fail(TypeResolutionError, p.Location, "Invalid alias location")
					continue
				}
				meta.aliases = append(meta.aliases, &aliasData{property: pd, idName: id, path: path, loc: p.Location})
			case TypeVar:
				pd.Type = MetaVar
				pd.Flags |= FlagVar
			case TypeCustom, TypeCustomList:
				if err := e.resolvePropertyType(pd, p); err != nil {
					fail(TypeResolutionError, p.Location, "%s", err)
					continue
				}
			default:
				if int(p.Type) >= len(builtinPropertyTypes) {
					fail(TypeResolutionError, p.Location, "Invalid property type")
					continue
				}
				pd.Type = builtinPropertyTypes[p.Type]
				if pd.Type == MetaVariant {
					pd.Flags |= FlagVariant
				}
			}
			cache.appendProperty(pd)
		}
	}

	if obj.DefaultProperty >= 0 {
		if obj.DefaultProperty < len(obj.Properties) {
			cache.defaultProperty = obj.Properties[obj.DefaultProperty].Name
		} else {
			fail(StructuralError, obj.Location, "Invalid default property index %d", obj.DefaultProperty)
		}
	}

	if len(errs) > 0 {
		// Drop the reference the unpublished layer took on base.
		base.Release()
		return nil, nil, errs
	}
	return cache, meta, nil
}

// resolvePropertyType resolves the type of a property declared with a
// registered type name, as a single object or a list of objects.
func (e *Engine) resolvePropertyType(pd *PropertyData, p *PropertyDecl) error {
	if t, ok := e.interfaces[p.CustomTypeName]; ok {
		pd.InterfaceID = p.CustomTypeName
		pd.ElemType = t
		if p.Type == TypeCustomList {
			pd.Type = MetaObjectList
			pd.Flags |= FlagList
		} else {
			pd.Type = MetaInterface
			pd.Flags |= FlagObject
		}
		return nil
	}

	ref, err := e.ResolveType(p.CustomTypeName)
	if err != nil {
		return fmt.Errorf("Invalid property type")
	}
	elem, err := e.typeCache(ref)
	if err != nil {
		return err
	}
	pd.ElemCache = elem
	if p.Type == TypeCustomList {
		pd.Type = MetaObjectList
		pd.Flags |= FlagList
	} else {
		pd.Type = MetaObject
		pd.Flags |= FlagObject
	}
	return nil
}
