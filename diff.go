package mirror

import "fmt"

// diffCtx threads the pieces the diff/commit engine's recursive calls
// all need: the registry (for existing-CID lookups and schema lookups on
// unregistered children), the inference options, the script being built,
// and stamp, invoked once a brand-new container is assigned a real CID
// so the registry and the pending next state both learn about it.
type diffCtx struct {
	registry *Registry
	infer    InferOptions
	script   *Script
	// stamp is invoked once a brand-new non-tree container is assigned
	// a real CID: it registers (path, cid, schema) with the registry and,
	// if schema requests $cid injection, writes that field into the
	// pending next state.
	stamp func(path []PathSegment, cid CID, schema *Schema)
	// stampNode is stamp's tree-node analogue: invoked once a tree-create
	// op's real node id and data CID are known, so the pending next
	// state's temporary node id (and, if the node schema requests it,
	// its data map's $cid) can be rewritten to match.
	stampNode func(path []PathSegment, realID TreeNodeID, dataCID CID, nodeSchema *Schema)
	// nodeData resolves the data-map CID of an existing tree node, so
	// the tree diff can recurse into node data regardless of whether the
	// node was created by this engine or arrived through an inbound
	// batch. May be nil (node data diffs are then skipped).
	nodeData func(tree CID, node TreeNodeID) (CID, bool)
}

// DiffState compares oldState to newState under schema and returns the
// ordered change script to bring the document from one to the other.
// roots maps each top-level field name to the CID of its pre-created
// root container.
func DiffState(registry *Registry, roots map[string]CID, schema *Schema, infer InferOptions, oldState, newState State, stamp func(path []PathSegment, cid CID, schema *Schema), stampNode func(path []PathSegment, realID TreeNodeID, dataCID CID, nodeSchema *Schema), nodeData func(tree CID, node TreeNodeID) (CID, bool)) (*Script, error) {
	script := &Script{}
	ctx := &diffCtx{registry: registry, infer: infer, script: script, stamp: stamp, stampNode: stampNode, nodeData: nodeData}

	oldObj := asObject(oldState)
	newObj := asObject(newState)
	for key, cid := range roots {
		childSchema := schema.fieldSchema(key)
		path := []PathSegment{key}
		if err := diffContainer(ctx, path, cid, childSchema, oldObj[key], newObj[key]); err != nil {
			return nil, err
		}
	}
	return script, nil
}

// containerValueKind decides whether val should be backed by a CRDT
// container and, if so, which kind.
// A non-nil schema is authoritative; with no schema, an object value
// always implies a map, an array implies a list (or movable list if
// infer.DefaultMovableList), and a string implies a plain primitive
// unless infer.DefaultText requests a Text container.
func containerValueKind(val any, schema *Schema, infer InferOptions) (ContainerKind, bool) {
	if schema != nil {
		if schema.isContainer() {
			return schema.containerKind(), true
		}
		return "", false
	}
	switch val.(type) {
	case map[string]any:
		return KindMap, true
	case []any:
		if infer.DefaultMovableList {
			return KindMovableList, true
		}
		return KindList, true
	case string:
		if infer.DefaultText {
			return KindText, true
		}
		return "", false
	default:
		return "", false
	}
}

// diffContainer recurses into the container at path/cid, dispatching by
// schema kind (falling back to the registry's own record of cid's
// schema, then to inference from newVal's shape). Counter containers
// are intentionally not diffed outbound: a counter's value is a running
// total the CRDT accumulates from increments, not something a
// last-write-wins "set" can reproduce (see DESIGN.md).
func diffContainer(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldVal, newVal any) error {
	if schema == nil {
		schema = ctx.registry.SchemaOf(cid)
	}
	kind, ok := containerValueKind(newVal, schema, ctx.infer)
	if !ok {
		kind = ctx.registry.SchemaOf(cid).containerKindOrZero()
	}
	switch kind {
	case KindMap:
		return diffMap(ctx, path, cid, schema, asObject(oldVal), asObject(newVal))
	case KindList:
		return diffListByIndexOrIdentity(ctx, path, cid, schema, asSequence(oldVal), asSequence(newVal))
	case KindMovableList:
		return diffMovableList(ctx, path, cid, schema, asSequence(oldVal), asSequence(newVal))
	case KindText:
		return diffText(ctx, cid, asString(oldVal), asString(newVal))
	case KindTree:
		return diffTree(ctx, path, cid, schema, asSequence(oldVal), asSequence(newVal))
	case KindCounter:
		return nil
	default:
		return &InternalError{Context: fmt.Sprintf("cannot determine container kind at %v", path)}
	}
}

func (s *Schema) containerKindOrZero() ContainerKind {
	if s == nil || !s.isContainer() {
		return ""
	}
	return s.containerKind()
}

// diffMap reconciles a map container key by key: removed keys delete,
// new keys set or set-container, shared keys recurse into the same
// container when identity allows or replace otherwise.
func diffMap(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldObj, newObj map[string]any) error {
	oldObj = stripCID(oldObj)
	newObj = stripCID(newObj)

	for key := range oldObj {
		if _, ok := newObj[key]; !ok {
			ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: key})
		}
	}

	for key, newVal := range newObj {
		oldVal, existed := oldObj[key]
		childPath := append(append([]PathSegment{}, path...), key)
		childSchema := schema.fieldSchema(key)

		if !existed {
			if err := emitNewChild(ctx, childPath, cid, key, childSchema, newVal, opInsertForMap); err != nil {
				return err
			}
			continue
		}

		if valuesEqual(oldVal, newVal) {
			continue
		}

		kind, isContainer := containerValueKind(newVal, childSchema, ctx.infer)
		_, oldIsContainer := containerValueKind(oldVal, childSchema, ctx.infer)
		existingCID, hasExisting := ctx.registry.CIDForPath(pathOf(childPath))

		switch {
		case isContainer && oldIsContainer && hasExisting && kind == ctx.registry.SchemaOf(existingCID).containerKindOrZero():
			if err := diffContainer(ctx, childPath, existingCID, childSchema, oldVal, newVal); err != nil {
				return err
			}
		case isContainer:
			ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: key})
			if err := emitNewChild(ctx, childPath, cid, key, childSchema, newVal, opInsertForMap); err != nil {
				return err
			}
		default:
			// Both primitives: a map "set" replaces in place, no
			// delete needed.
			ctx.script.emit(Op{Kind: OpSet, Target: cid, Key: key, Value: newVal})
		}
	}
	return nil
}

// opInsertForMap / opInsertForList select the primitive (Set/Insert) and
// container-pointer (SetContainer/InsertContainer) op kinds appropriate
// to the parent container, used by emitNewChild below.
func opInsertForMap(cid CID, key any, value any) Op {
	return Op{Kind: OpSet, Target: cid, Key: key, Value: value}
}

func opInsertForList(cid CID, key any, value any) Op {
	return Op{Kind: OpInsert, Target: cid, Key: key, Value: value}
}

func containerOpKindFor(makePrimitiveOp func(cid CID, key any, value any) Op) OpKind {
	probe := makePrimitiveOp("", nil, nil)
	if probe.Kind == OpSet {
		return OpSetContainer
	}
	return OpInsertContainer
}

// emitNewChild emits the op(s) to introduce a brand-new value at key
// within cid: insert-container (with a recursive fill once the document
// assigns the real CID) for container-typed values, or a plain
// primitive op via makePrimitiveOp otherwise.
func emitNewChild(ctx *diffCtx, childPath []PathSegment, cid CID, key any, schema *Schema, value any, makePrimitiveOp func(cid CID, key any, value any) Op) error {
	kind, isContainer := containerValueKind(value, schema, ctx.infer)
	if !isContainer {
		ctx.script.emit(makePrimitiveOp(cid, key, value))
		return nil
	}

	ctx.script.emit(Op{
		Kind:      containerOpKindFor(makePrimitiveOp),
		Target:    cid,
		Key:       key,
		ChildKind: kind,
		OnCreate: func(newCID CID) error {
			ctx.stamp(childPath, newCID, schema)
			return diffContainer(ctx, childPath, newCID, schema, neutralBaseline(kind), value)
		},
	})
	return nil
}
