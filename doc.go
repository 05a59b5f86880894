// Package mirror reconciles a plain, JSON-like application state tree
// against a CRDT document made of typed containers (maps, lists, movable
// lists, text, trees, counters). The CRDT runtime itself — container
// storage, the op log, persistence, network sync — is an external
// collaborator: this package only consumes it through the Document and
// Container interfaces below, plus the event vocabulary it emits on
// commit.
package mirror

import "fmt"

// CID is the opaque, stable identifier a CRDT mints for a container when
// it is created. It does not change for the lifetime of the container.
type CID string

// ContainerKind enumerates the CRDT container types this package knows
// how to mirror and diff.
type ContainerKind string

const (
	KindMap          ContainerKind = "map"
	KindList         ContainerKind = "list"
	KindMovableList  ContainerKind = "movable-list"
	KindText         ContainerKind = "text"
	KindTree         ContainerKind = "tree"
	KindCounter      ContainerKind = "counter"
)

// TreeNodeID is the CRDT-assigned identifier for a tree node. It is
// allocated by the CRDT on create; a node proposed in state before its
// create commits carries an empty placeholder id that the engine
// rewrites once the real one is assigned.
type TreeNodeID string

// Document is the subset of the CRDT runtime this package depends on. A
// real CRDT (e.g. a Loro-like document) implements it directly; tests use
// internal/mockdoc.
type Document interface {
	// Container resolves a previously-created container by CID. It
	// returns false if no such container exists (stale-reference).
	Container(cid CID) (Container, bool)

	// CreateContainer creates a new, empty container of the given kind
	// as a child of parent at key (string for map, int for list/movable
	// list index, TreeNodeID for tree-node data maps). It returns the
	// new container's CID.
	CreateContainer(parent CID, key any, kind ContainerKind) (CID, error)

	// Commit flushes all operations issued since the last Commit as a
	// single atomic change, tagged with origin. An empty origin means
	// "no particular origin" (used for commits not produced by this
	// package, e.g. remote sync).
	Commit(origin string) error

	// Snapshot returns the document's current JSON-like projection,
	// rooted at the given container, for bulk fills and consistency
	// checks. Tree containers project to []any of {id,data,children}.
	Snapshot(cid CID) (any, error)

	// Subscribe registers cb to be invoked with every committed event
	// batch. It returns an unsubscribe function.
	Subscribe(cb func(EventBatch)) (unsubscribe func())
}

// Container is a single CRDT container addressed by CID.
type Container interface {
	CID() CID
	Kind() ContainerKind
}

// MapContainer supports per-key primitive/container mutation.
type MapContainer interface {
	Container
	Set(key string, value any) error
	Delete(key string) error
	Keys() []string
	// ChildContainer returns the CID stored at key, if that key
	// currently holds a container rather than a primitive. Used by the
	// schema registry to walk already-populated containers eagerly.
	ChildContainer(key string) (CID, bool)
}

// ListContainer supports index-addressed insert/delete, used by both
// plain lists and (with MovableListContainer) movable lists.
type ListContainer interface {
	Container
	Len() int
	Insert(index int, value any) error
	Delete(index int, count int) error
	// ChildContainer is the list analogue of MapContainer.ChildContainer.
	ChildContainer(index int) (CID, bool)
}

// MovableListContainer additionally supports O(1) logical moves.
type MovableListContainer interface {
	ListContainer
	Move(from, to int) error
}

// TextContainer is addressed opaquely: the engine asks it to become a
// given string and trusts the CRDT to compute the minimal patch.
type TextContainer interface {
	Container
	Value() string
	Update(next string) error
}

// CounterContainer supports increment-only mutation, mirroring the event
// vocabulary's counter diff.
type CounterContainer interface {
	Container
	Value() float64
	Increment(delta float64) error
}

// TreeContainer supports structural create/move/delete of nodes. Each
// node's "data" is itself a MapContainer, created alongside the node.
type TreeContainer interface {
	Container
	CreateNode(parent *TreeNodeID, index int) (TreeNodeID, CID, error)
	MoveNode(target TreeNodeID, parent *TreeNodeID, index int) error
	DeleteNode(target TreeNodeID) error
	NodeDataCID(target TreeNodeID) (CID, bool)
}

// EventBatch is a group of events delivered together by one CRDT commit.
type EventBatch struct {
	// Origin is the commit-tag set by whoever produced this batch. The
	// engine sets OutboundOrigin on its own commits and drops any batch
	// carrying it back (loop suppression).
	Origin string
	// By distinguishes how this batch arrived.
	By     OriginKind
	Events []Event
}

// OriginKind enumerates how a batch of CRDT events arrived.
type OriginKind string

const (
	ByLocal    OriginKind = "local"
	ByImport   OriginKind = "import"
	ByCheckout OriginKind = "checkout"
)

// OutboundOrigin is the fixed commit-origin marker this package stamps on
// every commit it issues. Inbound batches carrying it are feedback from
// our own write and must be ignored.
const OutboundOrigin = "to-source"

// PathSegment is one element of an event's path: a map key (string), a
// list/movable-list index (int), or a tree-node id (TreeNodeID).
type PathSegment = any

// Event is a single path-addressed diff within a batch.
type Event struct {
	Target CID
	Path   []PathSegment
	Diff   Diff
}

// Diff is a sum type over the five diff kinds the CRDT emits. Exactly one
// field is meaningful, selected by Kind.
type Diff struct {
	Kind ContainerKind // KindMap | KindList | KindText | KindTree | KindCounter

	Map     *MapDiff
	List    *ListDiff
	Text    *TextDiff
	Tree    *TreeDiff
	Counter *CounterDiff
}

// MapDiff carries per-key updates. A value of (nil, true) in Updated
// means "delete this key"; a ContainerRef value means "this key now
// holds a container, go fetch its content separately"; anything else is
// a primitive value to assign as-is (including explicit nil, which must
// be preserved).
type MapDiff struct {
	Updated map[string]MapValue
}

// MapValue is one value in a MapDiff.Updated entry.
type MapValue struct {
	Deleted   bool
	Container *ContainerRef
	// Primitive holds the assigned value when neither Deleted nor
	// Container is set. A primitive nil is a valid, meaningful value
	// (JSON null) and is distinguished from Deleted by the Deleted flag.
	Primitive any
}

// ContainerRef names a newly-relevant child container by CID and kind,
// used by map and list diffs to signal "a container lives at this slot".
type ContainerRef struct {
	CID  CID
	Kind ContainerKind
}

// ListOp is one element of a ListDiff's delta, mirroring the CRDT's
// retain/delete/insert run-length vocabulary.
type ListOp struct {
	Retain *int
	Delete *int
	Insert []any // primitives or *ContainerRef
}

// ListDiff is an ordered sequence of retain/delete/insert runs, applied
// over a cursor starting at index 0.
type ListDiff struct {
	Ops []ListOp
}

// TextOp mirrors ListOp but insert fragments are plain strings.
type TextOp struct {
	Retain *int
	Delete *int
	Insert *string
}

// TextDiff is an ordered sequence of retain/delete/insert runs over a
// string's rune cursor.
type TextDiff struct {
	Ops []TextOp
}

// TreeOpKind distinguishes the three tree operations a CRDT can emit.
type TreeOpKind string

const (
	TreeOpCreate TreeOpKind = "create"
	TreeOpMove   TreeOpKind = "move"
	TreeOpDelete TreeOpKind = "delete"
)

// TreeOp is one structural tree mutation within a TreeDiff.
type TreeOp struct {
	Kind      TreeOpKind
	Target    TreeNodeID
	Parent    *TreeNodeID // nil means root
	Index     int
	OldParent *TreeNodeID
	OldIndex  int
}

// TreeDiff is an ordered sequence of structural tree operations.
type TreeDiff struct {
	Ops []TreeOp
}

// CounterDiff adds Increment to the counter's current value.
type CounterDiff struct {
	Increment float64
}

func (c CID) String() string { return string(c) }

func (k ContainerKind) validate() error {
	switch k {
	case KindMap, KindList, KindMovableList, KindText, KindTree, KindCounter:
		return nil
	default:
		return fmt.Errorf("mirror: unknown container kind %q", k)
	}
}
