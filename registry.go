package mirror

import "fmt"

// RootCID is the sentinel parent CID used when creating or addressing a
// top-level (root) container — the CRDT document itself has no CID of
// its own.
const RootCID CID = ""

// registryEntry is what the registry knows about one container.
type registryEntry struct {
	schema     *Schema
	registered bool
}

// Registry binds state paths and container identities to schema
// subtrees and tracks canonical root paths. It is process-local and
// only ever touched from the reconciliation engine's single execution
// context, so it carries no internal locking.
type Registry struct {
	containers map[CID]*registryEntry
	rootPaths  map[CID]string
	pathToCID  map[string]CID
	// trueRoots records only the genuine top-level containers created by
	// EnsureRootContainers, keyed by their single root-key segment. Kept
	// separate from rootPaths (which records the canonical path of every
	// registered container, nested ones included, for CIDForPath reverse
	// lookups): only a true root's path is unambiguous enough to rebuild
	// as a typed []PathSegment for inbound path normalization.
	trueRoots map[CID]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		containers: make(map[CID]*registryEntry),
		rootPaths:  make(map[CID]string),
		pathToCID:  make(map[string]CID),
		trueRoots:  make(map[CID]string),
	}
}

// Register binds cid to schema, idempotently. Registering an
// already-known CID with a schema upgrades it from "unknown" only if it
// had none before. Re-registering with a different non-nil schema is a
// no-op: identity, not schema, is canonical once known.
func (r *Registry) Register(cid CID, schema *Schema) {
	e, ok := r.containers[cid]
	if !ok {
		r.containers[cid] = &registryEntry{schema: schema, registered: true}
		return
	}
	e.registered = true
	if e.schema == nil && schema != nil {
		e.schema = schema
	}
}

// RegisterAt registers cid with schema and additionally binds path to it,
// so a later diff over the same state path can recurse into the right
// existing container instead of mistaking it for a brand-new one.
func (r *Registry) RegisterAt(path string, cid CID, schema *Schema) {
	r.Register(cid, schema)
	r.rootPaths[cid] = path
	r.pathToCID[path] = cid
}

// SchemaOf returns the schema registered for cid, if any.
func (r *Registry) SchemaOf(cid CID) *Schema {
	if e, ok := r.containers[cid]; ok {
		return e.schema
	}
	return nil
}

// SchemaForChild returns the schema that should govern a child at key
// within the container identified by parentCID, based on the parent's
// registered schema kind. A nil result means "no schema
// known" — the diff engine falls back to type inference.
func (r *Registry) SchemaForChild(parentCID CID, key any) *Schema {
	parent := r.SchemaOf(parentCID)
	if parent == nil {
		return nil
	}
	switch parent.Kind {
	case SchemaMap:
		k, _ := key.(string)
		return parent.fieldSchema(k)
	case SchemaList, SchemaMovableList:
		return parent.ItemSchema
	case SchemaTree:
		return parent.NodeSchema
	default:
		return nil
	}
}

// RootPathFor returns the dot-joined path at which cid was last
// registered. Inbound event paths are normalized with TrueRootPathFor,
// not with this lookup.
func (r *Registry) RootPathFor(cid CID) (string, bool) {
	p, ok := r.rootPaths[cid]
	return p, ok
}

// CIDForPath returns the CID previously bound to path via RegisterAt, if
// any. The diff engine uses this to recognize "this is the same
// container as before" when both the old and new state hold a
// container-typed value at the same path.
func (r *Registry) CIDForPath(path string) (CID, bool) {
	cid, ok := r.pathToCID[path]
	return cid, ok
}

// walkEager registers a container's already-populated children using
// live document lookups, with the parent's schema guiding each child's.
// It is called right after a container is created or discovered, before
// any diff tries to recurse into it.
func (r *Registry) walkEager(doc Document, path string, cid CID, schema *Schema) error {
	r.RegisterAt(path, cid, schema)
	if schema == nil {
		return nil
	}
	c, ok := doc.Container(cid)
	if !ok {
		return nil
	}
	switch cc := c.(type) {
	case MapContainer:
		for _, key := range cc.Keys() {
			childCID, isContainer := cc.ChildContainer(key)
			if !isContainer {
				continue
			}
			childSchema := schema.fieldSchema(key)
			if err := r.walkEager(doc, pathJoin(path, key), childCID, childSchema); err != nil {
				return err
			}
		}
	case ListContainer:
		for i := 0; i < cc.Len(); i++ {
			childCID, isContainer := cc.ChildContainer(i)
			if !isContainer {
				continue
			}
			if err := r.walkEager(doc, pathJoinIndex(path, i), childCID, schema.ItemSchema); err != nil {
				return err
			}
		}
	case TreeContainer:
		// Tree node data maps are registered as their nodes are created
		// (see engine.go's stampNode callback and RegisterFromEventBatch); there is no generic way to
		// enumerate existing nodes through the Container interface
		// alone, so eager walking stops at the tree container itself.
	}
	return nil
}

// EnsureRootContainers creates, for every top-level key the caller's
// initial state or schema names, the matching root container kind, so
// the document's JSON snapshot exposes the expected empty shape from
// the start. It returns the CID assigned to each root key.
func (r *Registry) EnsureRootContainers(doc Document, schema *Schema, initial State) (map[string]CID, error) {
	roots := make(map[string]CID)
	keys := rootKeys(schema, initial)
	for _, key := range keys {
		fieldSchema := schema.fieldSchema(key)
		kind, err := rootKind(fieldSchema, initial, key)
		if err != nil {
			return nil, err
		}
		cid, err := doc.CreateContainer(RootCID, key, kind)
		if err != nil {
			return nil, err
		}
		if err := r.walkEager(doc, key, cid, fieldSchema); err != nil {
			return nil, err
		}
		r.trueRoots[cid] = key
		roots[key] = cid
	}
	return roots, nil
}

// TrueRootPathFor returns the single root-key path of cid if cid is one
// of the containers EnsureRootContainers created, so an inbound event's
// path can be normalized to that canonical root segment regardless of
// how the document itself spelled it.
func (r *Registry) TrueRootPathFor(cid CID) ([]PathSegment, bool) {
	key, ok := r.trueRoots[cid]
	if !ok {
		return nil, false
	}
	return []PathSegment{key}, true
}

func rootKeys(schema *Schema, initial State) []string {
	seen := map[string]bool{}
	var keys []string
	if schema != nil {
		for k := range schema.Fields {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if obj, ok := initial.(map[string]any); ok {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func rootKind(fieldSchema *Schema, initial State, key string) (ContainerKind, error) {
	if fieldSchema != nil && fieldSchema.isContainer() {
		return fieldSchema.containerKind(), nil
	}
	obj, _ := initial.(map[string]any)
	switch obj[key].(type) {
	case []any:
		return KindList, nil
	case string:
		return KindText, nil
	case map[string]any:
		return KindMap, nil
	default:
		return KindMap, nil
	}
}

// RegisterFromEventBatch pre-scans batch for containers introduced by
// map-sets, list-inserts, and tree-creates, registering each one (with
// whatever schema the parent's registration implies) before the event
// applier walks the batch.
func (r *Registry) RegisterFromEventBatch(doc Document, batch EventBatch) {
	for _, ev := range batch.Events {
		switch ev.Diff.Kind {
		case KindMap:
			for key, val := range ev.Diff.Map.Updated {
				if val.Container == nil {
					continue
				}
				childSchema := r.SchemaForChild(ev.Target, key)
				_ = r.walkEager(doc, pathJoin(pathOf(ev.Path), key), val.Container.CID, childSchema)
			}
		case KindList, KindMovableList:
			idx := 0
			for _, op := range ev.Diff.List.Ops {
				switch {
				case op.Retain != nil:
					idx += *op.Retain
				case op.Insert != nil:
					for _, item := range op.Insert {
						if ref, ok := item.(*ContainerRef); ok {
							childSchema := r.SchemaForChild(ev.Target, idx)
							_ = r.walkEager(doc, pathJoinIndex(pathOf(ev.Path), idx), ref.CID, childSchema)
						}
						idx++
					}
				}
			}
		case KindTree:
			for _, op := range ev.Diff.Tree.Ops {
				if op.Kind != TreeOpCreate {
					continue
				}
				if cid, ok := nodeDataCIDHint(doc, ev.Target, op.Target); ok {
					nodeSchema := r.SchemaOf(ev.Target)
					var dataSchema *Schema
					if nodeSchema != nil {
						dataSchema = nodeSchema.NodeSchema
					}
					r.Register(cid, dataSchema)
				}
			}
		}
	}
}

func nodeDataCIDHint(doc Document, treeCID CID, node TreeNodeID) (CID, bool) {
	c, ok := doc.Container(treeCID)
	if !ok {
		return "", false
	}
	tc, ok := c.(TreeContainer)
	if !ok {
		return "", false
	}
	return tc.NodeDataCID(node)
}

func pathOf(path []PathSegment) string {
	s := ""
	for _, seg := range path {
		switch v := seg.(type) {
		case string:
			s = pathJoin(s, v)
		case int:
			s = pathJoinIndex(s, v)
		case TreeNodeID:
			s = pathJoin(s, string(v))
		}
	}
	return s
}

func pathJoin(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func pathJoinIndex(base string, idx int) string {
	return pathJoin(base, fmt.Sprintf("%d", idx))
}
