package mirror

import "fmt"

// applyTreeDiff applies an ordered sequence of tree operations to root,
// the tree container's mirrored []any of {id,data,children} nodes. Each
// operation addresses its parent by node id (nil meaning the tree's own
// root sequence) and an index within that parent's children.
func (a *Applier) applyTreeDiff(treeCID CID, root []any, diff *TreeDiff) ([]any, error) {
	tree := root
	for _, op := range diff.Ops {
		var err error
		switch op.Kind {
		case TreeOpCreate:
			tree, err = a.applyTreeCreate(treeCID, tree, op)
		case TreeOpDelete:
			tree, err = applyTreeDelete(tree, op)
		case TreeOpMove:
			tree, err = applyTreeMove(tree, op)
		default:
			return nil, &UnsupportedDiffError{Kind: KindTree}
		}
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (a *Applier) applyTreeCreate(treeCID CID, tree []any, op TreeOp) ([]any, error) {
	data := map[string]any{}
	if a.Env != nil && a.Env.TreeInjectsCID(treeCID) {
		if cid, ok := a.Env.TreeNodeDataCID(treeCID, op.Target); ok {
			data[CIDField] = string(cid)
		}
	}
	node := TreeNode{ID: op.Target, Data: data, Children: []any{}}.toValue()

	updated, found, err := mutateChildrenAt(tree, op.Parent, func(children []any) ([]any, error) {
		return insertAt(children, op.Index, node), nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &InvalidShapeError{Reason: fmt.Sprintf("tree create: parent %v not found", op.Parent)}
	}
	return updated, nil
}

func applyTreeDelete(tree []any, op TreeOp) ([]any, error) {
	// A missing target is not an error: some CRDTs report a subtree
	// removal top-down (root first), in which case the descendants'
	// delete ops arrive after their whole subtree is already gone.
	// Either ordering must settle on the same final state.
	_, updated, found, err := removeNode(tree, op.OldParent, op.OldIndex, op.Target)
	if err != nil || !found {
		return tree, nil
	}
	return updated, nil
}

func applyTreeMove(tree []any, op TreeOp) ([]any, error) {
	removedNode, afterRemove, found, err := removeNode(tree, op.OldParent, op.OldIndex, op.Target)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &InvalidShapeError{Reason: fmt.Sprintf("tree move: target %s not found", op.Target)}
	}

	destIndex := op.Index
	if treeNodeIDEqual(op.OldParent, op.Parent) && op.OldIndex < destIndex {
		// Removal already shifted everything after it left by one; the
		// destination index must follow.
		destIndex--
	}

	updated, foundParent, err := mutateChildrenAt(afterRemove, op.Parent, func(children []any) ([]any, error) {
		return insertAt(children, destIndex, removedNode), nil
	})
	if err != nil {
		return nil, err
	}
	if !foundParent {
		return nil, &InvalidShapeError{Reason: fmt.Sprintf("tree move: parent %v not found", op.Parent)}
	}
	return updated, nil
}

// childMutator transforms a parent's children slice.
type childMutator func(children []any) ([]any, error)

// mutateChildrenAt locates the children slice belonging to parent
// (nil meaning the tree's own root sequence) anywhere within nodes,
// applies mut to it, and rebuilds the ancestor chain with structural
// sharing elsewhere. found is false if parent does not exist in nodes.
func mutateChildrenAt(nodes []any, parent *TreeNodeID, mut childMutator) (out []any, found bool, err error) {
	if parent == nil {
		out, err = mut(nodes)
		return out, true, err
	}
	for i, v := range nodes {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if nodeID(obj) == *parent {
			newChildren, err := mut(asSequence(obj["children"]))
			if err != nil {
				return nil, false, err
			}
			replaced := make([]any, len(nodes))
			copy(replaced, nodes)
			replaced[i] = withKey(obj, "children", newChildren)
			return replaced, true, nil
		}
	}
	for i, v := range nodes {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		newChildren, found, err := mutateChildrenAt(asSequence(obj["children"]), parent, mut)
		if err != nil {
			return nil, false, err
		}
		if found {
			replaced := make([]any, len(nodes))
			copy(replaced, nodes)
			replaced[i] = withKey(obj, "children", newChildren)
			return replaced, true, nil
		}
	}
	return nodes, false, nil
}

// removeNode removes the node named target from the children list of
// parent, preferring the precise index (clamped to [0,len)) and falling
// back to a by-id search within that same children list if the index
// missed. It returns the removed node value so a move can reinsert the
// exact same subtree.
func removeNode(tree []any, parent *TreeNodeID, index int, target TreeNodeID) (removed any, out []any, found bool, err error) {
	out, found, err = mutateChildrenAt(tree, parent, func(children []any) ([]any, error) {
		if len(children) == 0 {
			return children, &InvalidShapeError{Reason: fmt.Sprintf("tree delete: %s not found in empty children", target)}
		}
		idx := clampRemoveIndex(index, len(children))
		if obj, ok := children[idx].(map[string]any); ok && nodeID(obj) == target {
			removed = children[idx]
			return append(append([]any{}, children[:idx]...), children[idx+1:]...), nil
		}
		for i, c := range children {
			if obj, ok := c.(map[string]any); ok && nodeID(obj) == target {
				removed = c
				return append(append([]any{}, children[:i]...), children[i+1:]...), nil
			}
		}
		return nil, &InvalidShapeError{Reason: fmt.Sprintf("tree delete: %s not found among children", target)}
	})
	return removed, out, found, err
}

func insertAt(children []any, index int, node any) []any {
	idx := clampInsertIndex(index, len(children))
	out := make([]any, 0, len(children)+1)
	out = append(out, children[:idx]...)
	out = append(out, node)
	out = append(out, children[idx:]...)
	return out
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

func clampRemoveIndex(i, length int) int {
	if length == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= length {
		return length - 1
	}
	return i
}

func nodeID(obj map[string]any) TreeNodeID {
	id, _ := obj["id"].(string)
	return TreeNodeID(id)
}

func treeNodeIDEqual(a, b *TreeNodeID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
