package mirror

import "fmt"

// OpKind enumerates the change-script operation kinds the diff engine
// can emit.
type OpKind string

const (
	OpSet             OpKind = "set"
	OpSetContainer    OpKind = "set-container"
	OpInsert          OpKind = "insert"
	OpInsertContainer OpKind = "insert-container"
	OpDelete          OpKind = "delete"
	OpMove            OpKind = "move"
	OpTextUpdate      OpKind = "text-update"
	OpTreeCreate      OpKind = "tree-create"
	OpTreeMove        OpKind = "tree-move"
	OpTreeDelete      OpKind = "tree-delete"
)

// OnCreate is invoked once the document assigns a CID to a container
// just created by an insert-container or set-container op. It writes the
// assignment back into the pending next state and appends the new
// container's own content ops to the script; no queued op refers to the
// container before this point, so nothing already queued is rewritten.
type OnCreate func(cid CID) error

// OnCreateNode is the tree-create analogue of OnCreate: it receives both
// the assigned node id and its data map's CID.
type OnCreateNode func(id TreeNodeID, dataCID CID) error

// Op is one operation in a change script. Exactly the fields relevant to
// Kind are populated.
type Op struct {
	Kind OpKind

	// Addressing. Target is the CID of the container the op mutates
	// (the tree CID for tree-* ops). Key is a string map key or int
	// list/movable-list index.
	Target CID
	Key    any

	// delete: number of consecutive elements to remove starting at Key
	// (list/movable-list only; ignored for map deletes). Zero means 1.
	Count int

	// set / insert: primitive value.
	Value any

	// set-container / insert-container: the kind of child container to
	// create, and the callback to receive its assigned CID.
	ChildKind ContainerKind
	OnCreate  OnCreate

	// move: positions within Target.
	FromIndex int
	ToIndex   int

	// tree-create / tree-move / tree-delete.
	TreeTarget   TreeNodeID
	TreeParent   *TreeNodeID
	TreeIndex    int
	TreeInitial  map[string]any
	OnCreateNode OnCreateNode
}

// Script is the ordered sequence of operations the diff engine emits for
// one setState call. An empty script means "no changes" and must not
// produce a commit.
type Script struct {
	Ops []Op
}

func (s *Script) emit(op Op) {
	s.Ops = append(s.Ops, op)
}

// Executor applies a Script against a live Document: tree operations
// for a tree container are applied in order on that container first,
// then nested data-map changes run against the corresponding child CIDs
// (which, since the script already lists operations in dependency order,
// falls out of simply executing Ops in sequence — tree-creates and their
// children's map ops are always emitted before any op that depends on
// them, see diff_tree.go).
type Executor struct {
	Doc Document
}

// Run executes every operation in script against e.Doc and, if any
// operations were emitted, commits them as one atomic change tagged with
// origin. It returns false if nothing was executed (no commit issued).
func (e *Executor) Run(script *Script, origin string) (committed bool, err error) {
	if len(script.Ops) == 0 {
		return false, nil
	}
	// Index-based, not range-based: an OnCreate/OnCreateNode callback
	// invoked by runOp below may append further operations to
	// script.Ops (a freshly created container's own content), and those
	// must still be picked up by this same pass.
	for i := 0; i < len(script.Ops); i++ {
		if err := e.runOp(script.Ops[i]); err != nil {
			return false, err
		}
	}
	if err := e.Doc.Commit(origin); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Executor) runOp(op Op) error {
	switch op.Kind {
	case OpSet, OpInsert, OpDelete, OpSetContainer, OpInsertContainer:
		return e.runContainerOp(op)
	case OpMove:
		c, ok := e.Doc.Container(op.Target)
		if !ok {
			return &StaleReferenceError{CID: op.Target}
		}
		ml, ok := c.(MovableListContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not movable", op.Target)}
		}
		return ml.Move(op.FromIndex, op.ToIndex)
	case OpTextUpdate:
		c, ok := e.Doc.Container(op.Target)
		if !ok {
			return &StaleReferenceError{CID: op.Target}
		}
		tc, ok := c.(TextContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not text", op.Target)}
		}
		next, _ := op.Value.(string)
		return tc.Update(next)
	case OpTreeCreate:
		c, ok := e.Doc.Container(op.Target)
		if !ok {
			return &StaleReferenceError{CID: op.Target}
		}
		tc, ok := c.(TreeContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not a tree", op.Target)}
		}
		id, dataCID, err := tc.CreateNode(op.TreeParent, op.TreeIndex)
		if err != nil {
			return err
		}
		if op.OnCreateNode != nil {
			return op.OnCreateNode(id, dataCID)
		}
		return nil
	case OpTreeMove:
		c, ok := e.Doc.Container(op.Target)
		if !ok {
			return &StaleReferenceError{CID: op.Target}
		}
		tc, ok := c.(TreeContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not a tree", op.Target)}
		}
		return tc.MoveNode(op.TreeTarget, op.TreeParent, op.TreeIndex)
	case OpTreeDelete:
		c, ok := e.Doc.Container(op.Target)
		if !ok {
			return &StaleReferenceError{CID: op.Target}
		}
		tc, ok := c.(TreeContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not a tree", op.Target)}
		}
		return tc.DeleteNode(op.TreeTarget)
	default:
		return &InternalError{Context: fmt.Sprintf("unknown op kind %q", op.Kind)}
	}
}

func (e *Executor) runContainerOp(op Op) error {
	c, ok := e.Doc.Container(op.Target)
	if !ok {
		return &StaleReferenceError{CID: op.Target}
	}
	switch op.Kind {
	case OpSet:
		return e.runSet(c, op)
	case OpInsert:
		return e.runInsert(c, op, op.Value)
	case OpDelete:
		return e.runDelete(c, op)
	case OpSetContainer:
		cid, err := e.createChild(op, op.Key)
		if err != nil {
			return err
		}
		if err := e.runSet(c, Op{Kind: OpSet, Target: op.Target, Key: op.Key, Value: cid}); err != nil {
			return err
		}
		if op.OnCreate != nil {
			return op.OnCreate(cid)
		}
		return nil
	case OpInsertContainer:
		cid, err := e.createChild(op, op.Key)
		if err != nil {
			return err
		}
		if err := e.runInsert(c, op, cid); err != nil {
			return err
		}
		if op.OnCreate != nil {
			return op.OnCreate(cid)
		}
		return nil
	default:
		return &InternalError{Context: fmt.Sprintf("unexpected container op kind %q", op.Kind)}
	}
}

func (e *Executor) createChild(op Op, key any) (CID, error) {
	return e.Doc.CreateContainer(op.Target, key, op.ChildKind)
}

func (e *Executor) runSet(c Container, op Op) error {
	m, ok := c.(MapContainer)
	if !ok {
		return &InternalError{Context: fmt.Sprintf("container %s is not a map", op.Target)}
	}
	key, ok := op.Key.(string)
	if !ok {
		return &InternalError{Context: "set op key is not a string"}
	}
	return m.Set(key, op.Value)
}

func (e *Executor) runInsert(c Container, op Op, value any) error {
	switch lc := c.(type) {
	case ListContainer:
		idx, ok := op.Key.(int)
		if !ok {
			return &InternalError{Context: "insert op key is not an int"}
		}
		return lc.Insert(idx, value)
	default:
		return &InternalError{Context: fmt.Sprintf("container %s does not support insert", op.Target)}
	}
}

func (e *Executor) runDelete(c Container, op Op) error {
	switch key := op.Key.(type) {
	case string:
		m, ok := c.(MapContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not a map", op.Target)}
		}
		return m.Delete(key)
	case int:
		lc, ok := c.(ListContainer)
		if !ok {
			return &InternalError{Context: fmt.Sprintf("container %s is not a list", op.Target)}
		}
		count := op.Count
		if count <= 0 {
			count = 1
		}
		return lc.Delete(key, count)
	default:
		return &InternalError{Context: "delete op key is neither string nor int"}
	}
}
