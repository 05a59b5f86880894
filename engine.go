package mirror

import (
	"io"

	"gopkg.in/yaml.v2"
)

// Direction tells a subscriber which side of the reconciliation cycle
// produced the state it is looking at.
type Direction string

const (
	// DirectionToSource marks state produced by an outbound SetState
	// call that was just committed to the document.
	DirectionToSource Direction = "to-source"
	// DirectionFromSource marks state folded in from an inbound
	// document event batch.
	DirectionFromSource Direction = "from-source"
	// DirectionBidirectional is reserved for external wrappers that
	// coalesce both directions into a single notification; the core
	// engine never emits it itself.
	DirectionBidirectional Direction = "bidirectional"
)

// ChangeMeta accompanies every state notification.
type ChangeMeta struct {
	Direction Direction
	Tags      []string
}

// Engine reconciles a mirrored application state tree against a live
// CRDT Document: SetState computes, diffs, and commits
// outbound changes; inbound commits from the document (local edits,
// imports, remote sync) are folded back into state through the event
// applier. Engine itself implements Environment so the applier and the
// diff engine's stamp callbacks can resolve container content without
// either of them depending on Document directly.
type Engine struct {
	doc      Document
	schema   *Schema
	registry *Registry
	options  Options
	executor *Executor
	applier  *Applier

	roots map[string]CID
	state State

	busy        bool
	unsubscribe func()
	subscribers []func(State, ChangeMeta)
}

// NewEngine obtains or creates the document's root containers, fills
// them with initial's content, and begins mirroring doc's committed
// events into state.
func NewEngine(doc Document, schema *Schema, initial State, opts Options) (*Engine, error) {
	opts.normalize()
	registry := NewRegistry()
	roots, err := registry.EnsureRootContainers(doc, schema, initial)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		doc:      doc,
		schema:   schema,
		registry: registry,
		options:  opts,
		executor: &Executor{Doc: doc},
		roots:    roots,
		// Seeded with the empty shape EnsureRootContainers actually just
		// created on doc — not with initial itself. The seeding
		// setStateLocked call below diffs this baseline against initial,
		// so non-empty initial content (preloaded todos, an initial tree,
		// ...) is genuinely written to the document instead of being
		// silently assumed present: diffing initial against initial would
		// find nothing to do and leave doc's freshly created containers
		// empty forever while e.state falsely reported initial's content
		// as already persisted.
		state: emptyRootState(doc, roots),
	}
	e.applier = &Applier{Env: e, Debug: opts.Debug, Writer: opts.DebugWriter}

	if _, err := e.setStateLocked(func(State) State { return initial }, nil); err != nil {
		return nil, err
	}
	e.state = e.stampRoots(e.state)

	e.unsubscribe = doc.Subscribe(e.onInboundEvent)
	return e, nil
}

// stampRoots injects $cid into every root-level map whose schema
// requests it. Nested containers are stamped as they are created (the
// stamp callback in setStateLocked); root containers exist from
// construction and are handled here instead, so every withCid map
// carries its container's identity, roots included.
func (e *Engine) stampRoots(s State) State {
	obj := asObject(s)
	for key, cid := range e.roots {
		fs := e.schema.fieldSchema(key)
		if fs == nil || fs.Kind != SchemaMap || !fs.Options.WithCID {
			continue
		}
		child := asObject(obj[key])
		if cur, _ := child[CIDField].(string); cur == string(cid) {
			continue
		}
		obj = withKey(obj, key, withKey(child, CIDField, string(cid)))
	}
	return obj
}

// emptyRootState builds the mirrored-state shape that matches the
// genuinely empty root containers EnsureRootContainers just created on
// doc: map/object -> {}, list/movable-list -> [], text -> "", counter ->
// 0, tree -> []. This is the correct pre-image for the engine's seeding
// diff, distinct from initial itself (see NewEngine).
func emptyRootState(doc Document, roots map[string]CID) State {
	out := map[string]any{}
	for key, cid := range roots {
		c, ok := doc.Container(cid)
		if !ok {
			continue
		}
		switch c.Kind() {
		case KindMap:
			out[key] = map[string]any{}
		case KindList, KindMovableList, KindTree:
			out[key] = []any{}
		case KindText:
			out[key] = ""
		case KindCounter:
			out[key] = float64(0)
		}
	}
	return out
}

// State returns the engine's current mirrored state.
func (e *Engine) State() State {
	return e.state
}

// RootCID returns the CID of the root container mirrored at the given
// top-level state key, for callers that need to address it directly
// through GetDocument() (e.g. to persist or sync it).
func (e *Engine) RootCID(key string) (CID, bool) {
	cid, ok := e.roots[key]
	return cid, ok
}

// Close stops mirroring the document's events.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Subscribe registers cb to be called with every new state, whether
// produced by SetState (direction to-source) or folded in from an
// inbound document event (direction from-source). It returns an
// unsubscribe function.
func (e *Engine) Subscribe(cb func(State, ChangeMeta)) (unsubscribe func()) {
	e.subscribers = append(e.subscribers, cb)
	idx := len(e.subscribers) - 1
	return func() {
		if idx < len(e.subscribers) {
			e.subscribers[idx] = nil
		}
	}
}

func (e *Engine) notify(meta ChangeMeta) {
	for _, cb := range e.subscribers {
		if cb != nil {
			cb(e.state, meta)
		}
	}
}

// SetState computes updater(current state), diffs the result against
// the current state, and commits the resulting change script to the
// document as a single atomic change. It returns false
// if nothing changed (no commit issued, state left untouched). A
// per-call opts override takes precedence over the engine's defaults
// for this call only.
func (e *Engine) SetState(updater func(State) State, opts *Options) (bool, error) {
	if e.busy {
		// A recursive SetState during execution is dropped silently,
		// not surfaced as an error, so a caller's updater can call
		// SetState without having to special-case re-entrancy.
		return false, nil
	}
	e.busy = true
	defer func() { e.busy = false }()
	return e.setStateLocked(updater, opts)
}

func (e *Engine) setStateLocked(updater func(State) State, opts *Options) (bool, error) {
	effective := e.options
	if opts != nil {
		effective = *opts
		effective.normalize()
	}

	next := updater(e.state)

	if effective.ValidateUpdates && effective.Validator != nil {
		if msgs := effective.Validator(next); len(msgs) > 0 {
			err := &ValidationError{Messages: msgs}
			if effective.ThrowOnValidationError {
				return false, err
			}
			effective.debugf("mirror: validation failed, accepting anyway: %v\n", msgs)
		}
	}

	pending := next
	stamp := func(path []PathSegment, cid CID, schema *Schema) {
		e.registry.RegisterAt(pathOf(path), cid, schema)
		if schema == nil || !schema.Options.WithCID {
			return
		}
		res, err := navigate(pending, path)
		if err != nil {
			return
		}
		m := withKey(stripCID(asObject(res.Node)), CIDField, string(cid))
		if updated, err := setPath(pending, path, m); err == nil {
			pending = updated
		}
	}
	stampNode := func(path []PathSegment, realID TreeNodeID, dataCID CID, nodeSchema *Schema) {
		// path still ends in the node's placeholder id; register the
		// data CID under the real id so later diffs over the same node
		// resolve it.
		realPath := append(append([]PathSegment{}, path[:len(path)-1]...), realID)
		e.registry.RegisterAt(pathOf(realPath), dataCID, nodeSchema)
		res, err := navigate(pending, path)
		if err != nil {
			return
		}
		tn, ok := toTreeNode(res.Node)
		if !ok {
			return
		}
		tn.ID = realID
		if nodeSchema != nil && nodeSchema.Options.WithCID {
			tn.Data = withKey(stripCID(tn.Data), CIDField, string(dataCID))
		}
		if updated, err := setPath(pending, path, tn.toValue()); err == nil {
			pending = updated
		}
	}

	script, err := DiffState(e.registry, e.roots, e.schema, effective.InferOptions, e.state, next, stamp, stampNode, e.TreeNodeDataCID)
	if err != nil {
		return false, err
	}

	committed, err := e.executor.Run(script, OutboundOrigin)
	if err != nil {
		// e.state is only overwritten below, once the commit has
		// already succeeded, so an execution failure here leaves it
		// exactly as it was before this call.
		return false, err
	}
	if !committed {
		return false, nil
	}

	e.state = e.stampRoots(pending)
	if effective.CheckStateConsistency {
		if err := e.checkConsistency(); err != nil {
			return true, err
		}
	}
	e.notify(ChangeMeta{Direction: DirectionToSource, Tags: effective.Tags})
	return true, nil
}

// onInboundEvent folds a committed event batch back into state.
// Batches carrying this engine's own outbound origin
// are feedback from a write this engine just made: their containers are
// still pre-registered, but no state mutation happens for them.
func (e *Engine) onInboundEvent(batch EventBatch) {
	e.registry.RegisterFromEventBatch(e.doc, batch)
	if batch.Origin == OutboundOrigin {
		return
	}
	if e.busy {
		e.options.debugf("mirror: dropping inbound batch delivered mid-cycle\n")
		return
	}
	e.busy = true
	defer func() { e.busy = false }()

	e.normalizeBatchPaths(batch)
	e.applier.Ignore = make(map[CID]bool)
	next, err := e.applier.Apply(e.state, batch)
	if err != nil {
		e.options.debugf("mirror: failed to apply inbound batch: %v\n", err)
		return
	}
	e.state = e.stampRoots(next)
	if e.options.CheckStateConsistency {
		if err := e.checkConsistency(); err != nil {
			e.options.debugf("mirror: consistency check failed: %v\n", err)
		}
	}
	e.notify(ChangeMeta{Direction: DirectionFromSource})
}

// normalizeBatchPaths replaces each event's path with its target's
// registered root-key segment, when the target is one of the true root
// containers, so a document that addresses a root differently than this
// package mirrors it still lands on the right place in state.
func (e *Engine) normalizeBatchPaths(batch EventBatch) {
	for i, ev := range batch.Events {
		if root, ok := e.registry.TrueRootPathFor(ev.Target); ok {
			batch.Events[i].Path = root
		}
	}
}

// checkConsistency compares state's root fields against the document's
// own normalized snapshot of each root container, used by
// Options.CheckStateConsistency to catch a diff/apply bug before it
// silently diverges further.
func (e *Engine) checkConsistency() error {
	obj := asObject(e.state)
	for key, cid := range e.roots {
		snap, err := e.doc.Snapshot(cid)
		if err != nil {
			return err
		}
		if !valuesEqual(stripCIDDeep(obj[key]), stripCIDDeep(snap)) {
			return &ConsistencyDivergenceError{Path: []PathSegment{key}}
		}
	}
	return nil
}

// stripCIDDeep recursively removes every synthesized $cid field from v,
// the way stripCID does for a single map level, so a consistency check
// can compare mirrored state (which may carry $cid) against the
// document's raw projection (which never does).
func stripCIDDeep(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if k == CIDField {
				continue
			}
			out[k] = stripCIDDeep(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = stripCIDDeep(vv)
		}
		return out
	default:
		return v
	}
}

// ContainerJSON implements Environment by delegating to the document's
// own snapshot projection.
func (e *Engine) ContainerJSON(cid CID) (any, error) {
	return e.doc.Snapshot(cid)
}

// TreeInjectsCID implements Environment using the registry's record of
// tree's node-data schema.
func (e *Engine) TreeInjectsCID(tree CID) bool {
	schema := e.registry.SchemaOf(tree)
	if schema == nil || schema.NodeSchema == nil {
		return false
	}
	return schema.NodeSchema.Options.WithCID
}

// TreeNodeDataCID implements Environment by asking the live tree
// container for node's data map CID.
func (e *Engine) TreeNodeDataCID(tree CID, node TreeNodeID) (CID, bool) {
	c, ok := e.doc.Container(tree)
	if !ok {
		return "", false
	}
	tc, ok := c.(TreeContainer)
	if !ok {
		return "", false
	}
	return tc.NodeDataCID(node)
}

// Dump writes a human-readable YAML rendering of the current state to
// w, $cid fields included, for use in debug logs and failing-test
// output.
func (e *Engine) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(e.state)
}
