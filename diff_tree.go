package mirror

// treeNodeInfo is a flattened view of one tree node's position and
// content, used by diffTree to correlate old and new state by id.
type treeNodeInfo struct {
	id       TreeNodeID
	parent   *TreeNodeID
	index    int
	data     map[string]any
	children []any
}

// flattenTree walks a mirrored tree's []any node sequence depth-first,
// recording each node's parent and index among its siblings.
func flattenTree(nodes []any, parent *TreeNodeID) []treeNodeInfo {
	var out []treeNodeInfo
	for idx, v := range nodes {
		tn, ok := toTreeNode(v)
		if !ok {
			continue
		}
		id := tn.ID
		out = append(out, treeNodeInfo{id: id, parent: parent, index: idx, data: tn.Data, children: tn.Children})
		out = append(out, flattenTree(tn.Children, &id)...)
	}
	return out
}

func treeNodeSchemaOf(schema *Schema) *Schema {
	if schema == nil {
		return nil
	}
	return schema.NodeSchema
}

// diffTree reconciles two mirrored trees structurally: existing nodes
// are matched by id (an app-assigned temporary id for anything not yet
// created, and the CRDT-assigned id thereafter — the engine patches the
// temporary id back into state once a create commits). Deletes run
// bottom-up (children before parents) so a delete never targets a node
// whose parent was already removed and a subtree's removal never
// orphans a node the script hasn't gotten to yet. Creates and moves run
// top-down, via diffTreeChildren, so a brand-new parent's real id is
// always known before its children's ops reference it.
func diffTree(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldSeq, newSeq []any) error {
	oldFlat := flattenTree(oldSeq, nil)
	oldByID := make(map[TreeNodeID]treeNodeInfo, len(oldFlat))
	for _, info := range oldFlat {
		oldByID[info.id] = info
	}
	newFlat := flattenTree(newSeq, nil)
	newByID := make(map[TreeNodeID]bool, len(newFlat))
	for _, info := range newFlat {
		newByID[info.id] = true
	}

	for i := len(oldFlat) - 1; i >= 0; i-- {
		info := oldFlat[i]
		if !newByID[info.id] {
			ctx.script.emit(Op{Kind: OpTreeDelete, Target: cid, TreeTarget: info.id, TreeParent: info.parent, TreeIndex: info.index})
		}
	}

	return diffTreeChildren(ctx, cid, schema, newSeq, nil, oldByID, path)
}

// diffTreeChildren walks children (a node's children slice, or the
// tree's own root sequence when resolvedParent is nil) and, for each:
//   - if its id already existed, conditionally emits a move (parent or
//     index changed), recurses into its data map's diff, then recurses
//     into its own children with its (unchanged, already-known) id;
//   - otherwise emits a tree-create whose OnCreateNode callback, once
//     the document assigns a real id, stamps it into state, diffs the
//     fresh node's data map, and recurses into its children with the
//     now-known real id — so a whole new subtree's ops chain together
//     correctly even though none of its ids existed before this call.
//
// parentPath is the state path of the node owning children (the tree's
// own path at the root). Child paths chain through every ancestor's id
// so navigate/setPath can descend node by node when a stamp rewrites a
// nested node.
func diffTreeChildren(ctx *diffCtx, cid CID, schema *Schema, children []any, resolvedParent *TreeNodeID, oldByID map[TreeNodeID]treeNodeInfo, parentPath []PathSegment) error {
	nodeSchema := treeNodeSchemaOf(schema)
	for idx, v := range children {
		tn, ok := toTreeNode(v)
		if !ok {
			continue
		}

		old, existed := oldByID[tn.ID]
		if existed {
			nodePath := withSegment(parentPath, tn.ID)
			if !treeNodeIDEqual(old.parent, resolvedParent) || old.index != idx {
				ctx.script.emit(Op{Kind: OpTreeMove, Target: cid, TreeTarget: tn.ID, TreeParent: resolvedParent, TreeIndex: idx})
			}
			if ctx.nodeData != nil {
				if dataCID, ok := ctx.nodeData(cid, tn.ID); ok {
					// The node's mirrored fields live under its "data" key
					// (node shape {id, data, children}), so any further
					// nested container paths diffMap builds must descend
					// through that key too.
					if err := diffMap(ctx, withSegment(nodePath, "data"), dataCID, nodeSchema, old.data, tn.Data); err != nil {
						return err
					}
				}
			}
			if err := diffTreeChildren(ctx, cid, schema, tn.Children, &tn.ID, oldByID, nodePath); err != nil {
				return err
			}
			continue
		}

		// tempPath still names the node by its placeholder id; the stamp
		// resolves it (navigate finds the first not-yet-stamped node at
		// this level, which is this one, since creates run in document
		// order) and rewrites it to the real id before anything below
		// addresses the node again.
		tempPath := withSegment(parentPath, tn.ID)
		info := tn
		base := parentPath
		ctx.script.emit(Op{
			Kind:       OpTreeCreate,
			Target:     cid,
			TreeParent: resolvedParent,
			TreeIndex:  idx,
			OnCreateNode: func(realID TreeNodeID, dataCID CID) error {
				ctx.stampNode(tempPath, realID, dataCID, nodeSchema)
				nodePath := withSegment(base, realID)
				if err := diffMap(ctx, withSegment(nodePath, "data"), dataCID, nodeSchema, map[string]any{}, info.Data); err != nil {
					return err
				}
				return diffTreeChildren(ctx, cid, schema, info.Children, &realID, oldByID, nodePath)
			},
		})
	}
	return nil
}
