// Package mockdoc is an in-memory stand-in for the CRDT runtime the
// mirror package depends on through mirror.Document/mirror.Container. It
// exists only for tests: a real deployment supplies its own CRDT (the
// runtime itself is an external collaborator, out of scope for this
// module).
package mockdoc

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/latticework/mirror"
)

// edge records a container's current parent and the key/index it is
// stored under, so the document can reconstruct a full path for any
// container when it needs to stamp an outbound event's Path field.
type edge struct {
	parent mirror.CID
	key    any
}

// treeNodeRef locates a tree node's data-map CID within its owning tree,
// used by pathFor to walk a node's ancestor chain.
type treeNodeRef struct {
	tree mirror.CID
	node mirror.TreeNodeID
}

// Document is a single-process, non-persistent mirror.Document. It keeps
// every container's content in memory, tracks each one's current parent
// and key so event paths stay correct across inserts/deletes/moves, and
// delivers a batch of events to subscribers on every Commit.
type Document struct {
	containers    map[mirror.CID]any
	kinds         map[mirror.CID]mirror.ContainerKind
	edges         map[mirror.CID]edge
	treeNodeOwner map[mirror.CID]treeNodeRef

	subs    []func(mirror.EventBatch)
	pending []mirror.Event
}

// New returns an empty document with no containers.
func New() *Document {
	return &Document{
		containers:    map[mirror.CID]any{},
		kinds:         map[mirror.CID]mirror.ContainerKind{},
		edges:         map[mirror.CID]edge{},
		treeNodeOwner: map[mirror.CID]treeNodeRef{},
	}
}

func (d *Document) mintCID(kind mirror.ContainerKind) mirror.CID {
	return mirror.CID(uuid.NewString() + "-" + string(kind))
}

func (d *Document) mintNodeID() mirror.TreeNodeID {
	return mirror.TreeNodeID(uuid.NewString() + "-node")
}

// CreateContainer implements mirror.Document.
func (d *Document) CreateContainer(parent mirror.CID, key any, kind mirror.ContainerKind) (mirror.CID, error) {
	cid := d.mintCID(kind)
	switch kind {
	case mirror.KindMap:
		d.containers[cid] = &mapContainer{cid: cid, doc: d, data: map[string]any{}}
	case mirror.KindList:
		d.containers[cid] = &listContainer{cid: cid, kind: kind, doc: d}
	case mirror.KindMovableList:
		d.containers[cid] = &movableListContainer{listContainer: &listContainer{cid: cid, kind: kind, doc: d}}
	case mirror.KindText:
		d.containers[cid] = &textContainer{cid: cid, doc: d}
	case mirror.KindCounter:
		d.containers[cid] = &counterContainer{cid: cid, doc: d}
	case mirror.KindTree:
		d.containers[cid] = &treeContainer{
			cid:        cid,
			doc:        d,
			parentOf:   map[mirror.TreeNodeID]mirror.TreeNodeID{},
			childrenOf: map[mirror.TreeNodeID][]mirror.TreeNodeID{},
			dataCID:    map[mirror.TreeNodeID]mirror.CID{},
		}
	default:
		return "", fmt.Errorf("mockdoc: unsupported container kind %q", kind)
	}
	d.kinds[cid] = kind
	d.edges[cid] = edge{parent: parent, key: key}
	return cid, nil
}

// Container implements mirror.Document.
func (d *Document) Container(cid mirror.CID) (mirror.Container, bool) {
	c, ok := d.containers[cid]
	if !ok {
		return nil, false
	}
	return c.(mirror.Container), true
}

// Commit implements mirror.Document: every event recorded since the last
// Commit is delivered to subscribers as one batch.
func (d *Document) Commit(origin string) error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := mirror.EventBatch{Origin: origin, By: mirror.ByLocal, Events: d.pending}
	d.pending = nil
	for _, cb := range d.subs {
		if cb != nil {
			cb(batch)
		}
	}
	return nil
}

// Subscribe implements mirror.Document.
func (d *Document) Subscribe(cb func(mirror.EventBatch)) func() {
	d.subs = append(d.subs, cb)
	idx := len(d.subs) - 1
	return func() {
		if idx < len(d.subs) {
			d.subs[idx] = nil
		}
	}
}

// Snapshot implements mirror.Document: a deep JSON projection of cid's
// content, descending through every nested container it holds.
func (d *Document) Snapshot(cid mirror.CID) (any, error) {
	c, ok := d.containers[cid]
	if !ok {
		return nil, fmt.Errorf("mockdoc: no such container %q", cid)
	}
	return d.snapshot(c), nil
}

func (d *Document) snapshot(c any) any {
	switch cc := c.(type) {
	case *mapContainer:
		out := make(map[string]any, len(cc.data))
		for k, v := range cc.data {
			out[k] = d.snapshotValue(v)
		}
		return out
	case *movableListContainer:
		return d.snapshotList(cc.listContainer)
	case *listContainer:
		return d.snapshotList(cc)
	case *textContainer:
		return cc.value
	case *counterContainer:
		return cc.value
	case *treeContainer:
		return d.snapshotTree(cc, "")
	default:
		return nil
	}
}

func (d *Document) snapshotList(l *listContainer) []any {
	out := make([]any, len(l.items))
	for i, v := range l.items {
		out[i] = d.snapshotValue(v)
	}
	return out
}

func (d *Document) snapshotValue(v any) any {
	if cid, ok := v.(mirror.CID); ok {
		return d.snapshot(d.containers[cid])
	}
	return v
}

func (d *Document) snapshotTree(t *treeContainer, parent mirror.TreeNodeID) []any {
	ids := t.childrenOf[parent]
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		dataObj, _ := d.snapshot(d.containers[t.dataCID[id]]).(map[string]any)
		out = append(out, map[string]any{
			"id":       string(id),
			"data":     dataObj,
			"children": d.snapshotTree(t, id),
		})
	}
	return out
}

// pathFor reconstructs cid's full address in mirrored state by walking
// its recorded parent/key chain, or (for a tree node's data map) the
// owning tree's path plus the node's own ancestor chain and a trailing
// "data" segment.
func (d *Document) pathFor(cid mirror.CID) []mirror.PathSegment {
	if ref, ok := d.treeNodeOwner[cid]; ok {
		tree := d.containers[ref.tree].(*treeContainer)
		var chain []mirror.PathSegment
		cur := ref.node
		for {
			chain = append([]mirror.PathSegment{cur}, chain...)
			parent := tree.parentOf[cur]
			if parent == "" {
				break
			}
			cur = parent
		}
		base := d.pathFromEdges(ref.tree)
		full := append(append([]mirror.PathSegment{}, base...), chain...)
		return append(full, "data")
	}
	return d.pathFromEdges(cid)
}

func (d *Document) pathFromEdges(cid mirror.CID) []mirror.PathSegment {
	var segs []mirror.PathSegment
	cur := cid
	for {
		e, ok := d.edges[cur]
		if !ok {
			break
		}
		segs = append([]mirror.PathSegment{e.key}, segs...)
		if e.parent == mirror.RootCID {
			break
		}
		cur = e.parent
	}
	return segs
}

// shiftEdgesForInsert bumps every container directly parented by parent
// whose key is >= at by n, keeping recorded positions in sync with an
// insertion at at.
func (d *Document) shiftEdgesForInsert(parent mirror.CID, at, n int) {
	for cid, e := range d.edges {
		if e.parent != parent {
			continue
		}
		if k, ok := e.key.(int); ok && k >= at {
			e.key = k + n
			d.edges[cid] = e
		}
	}
}

// shiftEdgesForDelete compacts every container directly parented by
// parent whose key is past the removed run [at, at+count) by count.
func (d *Document) shiftEdgesForDelete(parent mirror.CID, at, count int) {
	for cid, e := range d.edges {
		if e.parent != parent {
			continue
		}
		if k, ok := e.key.(int); ok && k >= at+count {
			e.key = k - count
			d.edges[cid] = e
		}
	}
}

// forgetContainer drops a container that has been removed from its
// parent (list delete, tree node delete) from every bookkeeping map.
// Descendants become unreachable rather than being recursively purged;
// this is a test double, not a garbage collector.
func (d *Document) forgetContainer(cid mirror.CID) {
	delete(d.containers, cid)
	delete(d.kinds, cid)
	delete(d.edges, cid)
	delete(d.treeNodeOwner, cid)
}

func (d *Document) emitMap(cid mirror.CID, updated map[string]mirror.MapValue) {
	d.pending = append(d.pending, mirror.Event{
		Target: cid,
		Path:   d.pathFor(cid),
		Diff:   mirror.Diff{Kind: mirror.KindMap, Map: &mirror.MapDiff{Updated: updated}},
	})
}

func (d *Document) emitList(cid mirror.CID, diff *mirror.ListDiff) {
	d.pending = append(d.pending, mirror.Event{
		Target: cid,
		Path:   d.pathFor(cid),
		Diff:   mirror.Diff{Kind: d.kinds[cid], List: diff},
	})
}

func toListItem(d *Document, value any) any {
	if cid, ok := value.(mirror.CID); ok {
		return &mirror.ContainerRef{CID: cid, Kind: d.kinds[cid]}
	}
	return value
}

// mapContainer implements mirror.MapContainer.
type mapContainer struct {
	cid  mirror.CID
	doc  *Document
	data map[string]any
}

func (m *mapContainer) CID() mirror.CID               { return m.cid }
func (m *mapContainer) Kind() mirror.ContainerKind    { return mirror.KindMap }
func (m *mapContainer) ChildContainer(key string) (mirror.CID, bool) {
	cid, ok := m.data[key].(mirror.CID)
	return cid, ok
}

func (m *mapContainer) Keys() []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

func (m *mapContainer) Set(key string, value any) error {
	m.data[key] = value
	mv := mirror.MapValue{Primitive: value}
	if cid, ok := value.(mirror.CID); ok {
		mv = mirror.MapValue{Container: &mirror.ContainerRef{CID: cid, Kind: m.doc.kinds[cid]}}
	}
	m.doc.emitMap(m.cid, map[string]mirror.MapValue{key: mv})
	return nil
}

func (m *mapContainer) Delete(key string) error {
	if _, ok := m.data[key]; !ok {
		return nil
	}
	delete(m.data, key)
	m.doc.emitMap(m.cid, map[string]mirror.MapValue{key: {Deleted: true}})
	return nil
}

// listContainer implements mirror.ListContainer. Used directly for plain
// lists and wrapped by movableListContainer for movable ones.
type listContainer struct {
	cid   mirror.CID
	kind  mirror.ContainerKind
	doc   *Document
	items []any
}

func (l *listContainer) CID() mirror.CID            { return l.cid }
func (l *listContainer) Kind() mirror.ContainerKind { return l.kind }
func (l *listContainer) Len() int                   { return len(l.items) }

func (l *listContainer) ChildContainer(index int) (mirror.CID, bool) {
	if index < 0 || index >= len(l.items) {
		return "", false
	}
	cid, ok := l.items[index].(mirror.CID)
	return cid, ok
}

func (l *listContainer) Insert(index int, value any) error {
	l.doc.shiftEdgesForInsert(l.cid, index, 1)
	if cid, ok := value.(mirror.CID); ok {
		// CreateContainer already recorded this child's edge at index;
		// the shift above must not count the child's own insertion.
		l.doc.edges[cid] = edge{parent: l.cid, key: index}
	}
	out := make([]any, 0, len(l.items)+1)
	out = append(out, l.items[:index]...)
	out = append(out, value)
	out = append(out, l.items[index:]...)
	l.items = out

	diff := &mirror.ListDiff{}
	if index > 0 {
		r := index
		diff.Ops = append(diff.Ops, mirror.ListOp{Retain: &r})
	}
	diff.Ops = append(diff.Ops, mirror.ListOp{Insert: []any{toListItem(l.doc, value)}})
	l.doc.emitList(l.cid, diff)
	return nil
}

func (l *listContainer) Delete(index, count int) error {
	if index < 0 || index+count > len(l.items) {
		return fmt.Errorf("mockdoc: delete out of range")
	}
	for _, v := range l.items[index : index+count] {
		if cid, ok := v.(mirror.CID); ok {
			l.doc.forgetContainer(cid)
		}
	}
	l.items = append(append([]any{}, l.items[:index]...), l.items[index+count:]...)
	l.doc.shiftEdgesForDelete(l.cid, index, count)

	diff := &mirror.ListDiff{}
	if index > 0 {
		r := index
		diff.Ops = append(diff.Ops, mirror.ListOp{Retain: &r})
	}
	c := count
	diff.Ops = append(diff.Ops, mirror.ListOp{Delete: &c})
	l.doc.emitList(l.cid, diff)
	return nil
}

// movableListContainer adds Move on top of listContainer, keeping the
// two container kinds structurally distinct: a plain list never
// satisfies mirror.MovableListContainer.
type movableListContainer struct {
	*listContainer
}

func (m *movableListContainer) Move(from, to int) error {
	if from == to {
		return nil
	}
	l := m.listContainer
	diff := moveListDiff(l.doc, l.items, from, to)

	item := l.items[from]
	rest := append(append([]any{}, l.items[:from]...), l.items[from+1:]...)
	out := make([]any, 0, len(rest)+1)
	out = append(out, rest[:to]...)
	out = append(out, item)
	out = append(out, rest[to:]...)
	l.items = out

	var movedCID mirror.CID
	var hadEdge bool
	var movedEdge edge
	if cid, ok := item.(mirror.CID); ok {
		movedCID = cid
		movedEdge, hadEdge = l.doc.edges[cid]
		delete(l.doc.edges, cid)
	}
	l.doc.shiftEdgesForDelete(l.cid, from, 1)
	l.doc.shiftEdgesForInsert(l.cid, to, 1)
	if hadEdge {
		movedEdge.key = to
		l.doc.edges[movedCID] = movedEdge
	}

	l.doc.emitList(l.cid, diff)
	return nil
}

// moveListDiff expresses a structural move as a retain/delete/insert run
// over the pre-move sequence: the CRDT's event vocabulary (doc.go's
// ListDiff) has no dedicated move op, so the same content change a move
// produces is reported to subscribers the same way a delete-then-insert
// of identical content would be.
func moveListDiff(d *Document, items []any, from, to int) *mirror.ListDiff {
	item := toListItem(d, items[from])
	one := 1
	var ops []mirror.ListOp
	if from < to {
		if from > 0 {
			r := from
			ops = append(ops, mirror.ListOp{Retain: &r})
		}
		ops = append(ops, mirror.ListOp{Delete: &one})
		if gap := to - from; gap > 0 {
			g := gap
			ops = append(ops, mirror.ListOp{Retain: &g})
		}
		ops = append(ops, mirror.ListOp{Insert: []any{item}})
	} else {
		if to > 0 {
			r := to
			ops = append(ops, mirror.ListOp{Retain: &r})
		}
		ops = append(ops, mirror.ListOp{Insert: []any{item}})
		if gap := from - to; gap > 0 {
			g := gap
			ops = append(ops, mirror.ListOp{Retain: &g})
		}
		ops = append(ops, mirror.ListOp{Delete: &one})
	}
	return &mirror.ListDiff{Ops: ops}
}

// textContainer implements mirror.TextContainer, computing the
// retain/delete/insert run between its old and new value with
// diffmatchpatch so subscribers see a realistic minimal edit rather
// than a whole-value replacement.
type textContainer struct {
	cid   mirror.CID
	doc   *Document
	value string
}

func (t *textContainer) CID() mirror.CID            { return t.cid }
func (t *textContainer) Kind() mirror.ContainerKind { return mirror.KindText }
func (t *textContainer) Value() string              { return t.value }

func (t *textContainer) Update(next string) error {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(t.value, next, false))

	var ops []mirror.TextOp
	for _, part := range diffs {
		n := utf8.RuneCountInString(part.Text)
		switch part.Type {
		case diffmatchpatch.DiffEqual:
			ops = append(ops, mirror.TextOp{Retain: &n})
		case diffmatchpatch.DiffDelete:
			ops = append(ops, mirror.TextOp{Delete: &n})
		case diffmatchpatch.DiffInsert:
			text := part.Text
			ops = append(ops, mirror.TextOp{Insert: &text})
		}
	}

	t.value = next
	t.doc.pending = append(t.doc.pending, mirror.Event{
		Target: t.cid,
		Path:   t.doc.pathFor(t.cid),
		Diff:   mirror.Diff{Kind: mirror.KindText, Text: &mirror.TextDiff{Ops: ops}},
	})
	return nil
}

// counterContainer implements mirror.CounterContainer.
type counterContainer struct {
	cid   mirror.CID
	doc   *Document
	value float64
}

func (c *counterContainer) CID() mirror.CID            { return c.cid }
func (c *counterContainer) Kind() mirror.ContainerKind { return mirror.KindCounter }
func (c *counterContainer) Value() float64             { return c.value }

func (c *counterContainer) Increment(delta float64) error {
	c.value += delta
	c.doc.pending = append(c.doc.pending, mirror.Event{
		Target: c.cid,
		Path:   c.doc.pathFor(c.cid),
		Diff:   mirror.Diff{Kind: mirror.KindCounter, Counter: &mirror.CounterDiff{Increment: delta}},
	})
	return nil
}

// treeContainer implements mirror.TreeContainer. Node structure is kept
// as a parent pointer plus an ordered children slice per parent (the
// empty TreeNodeID standing for the tree's own root), mirroring the same
// shape apply_tree.go expects state to take.
type treeContainer struct {
	cid        mirror.CID
	doc        *Document
	parentOf   map[mirror.TreeNodeID]mirror.TreeNodeID
	childrenOf map[mirror.TreeNodeID][]mirror.TreeNodeID
	dataCID    map[mirror.TreeNodeID]mirror.CID
}

func (t *treeContainer) CID() mirror.CID            { return t.cid }
func (t *treeContainer) Kind() mirror.ContainerKind { return mirror.KindTree }

func (t *treeContainer) CreateNode(parent *mirror.TreeNodeID, index int) (mirror.TreeNodeID, mirror.CID, error) {
	id := t.doc.mintNodeID()
	parentKey := mirror.TreeNodeID("")
	if parent != nil {
		parentKey = *parent
	}

	dataCID := t.doc.mintCID(mirror.KindMap)
	t.doc.containers[dataCID] = &mapContainer{cid: dataCID, doc: t.doc, data: map[string]any{}}
	t.doc.kinds[dataCID] = mirror.KindMap
	t.doc.treeNodeOwner[dataCID] = treeNodeRef{tree: t.cid, node: id}

	t.parentOf[id] = parentKey
	t.dataCID[id] = dataCID
	children := t.childrenOf[parentKey]
	idx := clampInsertIndex(index, len(children))
	t.childrenOf[parentKey] = insertTreeNodeID(children, idx, id)

	t.doc.pending = append(t.doc.pending, mirror.Event{
		Target: t.cid,
		Path:   t.doc.pathFor(t.cid),
		Diff: mirror.Diff{Kind: mirror.KindTree, Tree: &mirror.TreeDiff{Ops: []mirror.TreeOp{
			{Kind: mirror.TreeOpCreate, Target: id, Parent: parent, Index: idx},
		}}},
	})
	return id, dataCID, nil
}

func (t *treeContainer) MoveNode(target mirror.TreeNodeID, parent *mirror.TreeNodeID, index int) error {
	oldParentKey := t.parentOf[target]
	oldChildren := t.childrenOf[oldParentKey]
	oldIndex := indexOfTreeNodeID(oldChildren, target)
	if oldIndex < 0 {
		return fmt.Errorf("mockdoc: move: node %s not found", target)
	}
	t.childrenOf[oldParentKey] = removeTreeNodeID(oldChildren, oldIndex)

	newParentKey := mirror.TreeNodeID("")
	if parent != nil {
		newParentKey = *parent
	}
	newChildren := t.childrenOf[newParentKey]
	idx := clampInsertIndex(index, len(newChildren))
	t.childrenOf[newParentKey] = insertTreeNodeID(newChildren, idx, target)
	t.parentOf[target] = newParentKey

	t.doc.pending = append(t.doc.pending, mirror.Event{
		Target: t.cid,
		Path:   t.doc.pathFor(t.cid),
		Diff: mirror.Diff{Kind: mirror.KindTree, Tree: &mirror.TreeDiff{Ops: []mirror.TreeOp{
			{Kind: mirror.TreeOpMove, Target: target, Parent: parent, Index: idx, OldParent: treeNodeIDPtr(oldParentKey), OldIndex: oldIndex},
		}}},
	})
	return nil
}

func (t *treeContainer) DeleteNode(target mirror.TreeNodeID) error {
	parentKey := t.parentOf[target]
	children := t.childrenOf[parentKey]
	idx := indexOfTreeNodeID(children, target)
	if idx < 0 {
		return fmt.Errorf("mockdoc: delete: node %s not found", target)
	}
	t.childrenOf[parentKey] = removeTreeNodeID(children, idx)
	dataCID := t.dataCID[target]
	delete(t.parentOf, target)
	delete(t.dataCID, target)
	t.doc.forgetContainer(dataCID)

	t.doc.pending = append(t.doc.pending, mirror.Event{
		Target: t.cid,
		Path:   t.doc.pathFor(t.cid),
		Diff: mirror.Diff{Kind: mirror.KindTree, Tree: &mirror.TreeDiff{Ops: []mirror.TreeOp{
			{Kind: mirror.TreeOpDelete, Target: target, OldParent: treeNodeIDPtr(parentKey), OldIndex: idx},
		}}},
	})
	return nil
}

func (t *treeContainer) NodeDataCID(target mirror.TreeNodeID) (mirror.CID, bool) {
	cid, ok := t.dataCID[target]
	return cid, ok
}

func treeNodeIDPtr(id mirror.TreeNodeID) *mirror.TreeNodeID {
	if id == "" {
		return nil
	}
	return &id
}

func clampInsertIndex(i, length int) int {
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

func insertTreeNodeID(ids []mirror.TreeNodeID, index int, id mirror.TreeNodeID) []mirror.TreeNodeID {
	out := make([]mirror.TreeNodeID, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}

func indexOfTreeNodeID(ids []mirror.TreeNodeID, target mirror.TreeNodeID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func removeTreeNodeID(ids []mirror.TreeNodeID, index int) []mirror.TreeNodeID {
	return append(append([]mirror.TreeNodeID{}, ids[:index]...), ids[index+1:]...)
}
