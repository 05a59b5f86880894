package mirror

import "fmt"

// diffListByIndexOrIdentity picks between positional list diffing and
// identity-selector list diffing based on whether schema declares a
// Selector.
func diffListByIndexOrIdentity(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldSeq, newSeq []any) error {
	if schema != nil && schema.Selector != nil {
		return diffListByIdentity(ctx, path, cid, schema, oldSeq, newSeq)
	}
	return diffListByIndex(ctx, path, cid, schema, oldSeq, newSeq)
}

func listItemSchema(s *Schema) *Schema {
	if s == nil {
		return nil
	}
	return s.ItemSchema
}

func withSegment(path []PathSegment, seg PathSegment) []PathSegment {
	return append(append([]PathSegment{}, path...), seg)
}

// diffListByIndex compares oldSeq and newSeq position by position: a
// slot holding the same container identity on both
// sides recurses, any other changed slot is replaced via delete-then-
// insert (ListContainer exposes no per-index set), and a length
// difference trims or appends the tail.
func diffListByIndex(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldSeq, newSeq []any) error {
	itemSchema := listItemSchema(schema)
	common := len(oldSeq)
	if len(newSeq) < common {
		common = len(newSeq)
	}

	for i := 0; i < common; i++ {
		oldVal, newVal := oldSeq[i], newSeq[i]
		if valuesEqual(oldVal, newVal) {
			continue
		}
		childPath := withSegment(path, i)
		if err := diffListSlot(ctx, childPath, cid, i, itemSchema, oldVal, newVal); err != nil {
			return err
		}
	}

	switch {
	case len(newSeq) > common:
		for i := common; i < len(newSeq); i++ {
			if err := emitNewChild(ctx, withSegment(path, i), cid, i, itemSchema, newSeq[i], opInsertForList); err != nil {
				return err
			}
		}
	case len(oldSeq) > common:
		ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: common, Count: len(oldSeq) - common})
	}
	return nil
}

// diffListSlot handles one changed position shared by both sides: if
// both values are the same existing container, recurse; otherwise
// replace it wholesale.
func diffListSlot(ctx *diffCtx, childPath []PathSegment, cid CID, index int, itemSchema *Schema, oldVal, newVal any) error {
	kind, isContainer := containerValueKind(newVal, itemSchema, ctx.infer)
	_, oldIsContainer := containerValueKind(oldVal, itemSchema, ctx.infer)
	existingCID, hasExisting := ctx.registry.CIDForPath(pathOf(childPath))

	if isContainer && oldIsContainer && hasExisting && kind == ctx.registry.SchemaOf(existingCID).containerKindOrZero() {
		return diffContainer(ctx, childPath, existingCID, itemSchema, oldVal, newVal)
	}
	ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: index})
	return emitNewChild(ctx, childPath, cid, index, itemSchema, newVal, opInsertForList)
}

// diffListByIdentity matches old and new items by schema.Selector
// instead of position, in a single pass: an old cursor i walks the
// existing list while offset tracks the net inserts-minus-deletes
// already applied before it, so every emitted op addresses the list's
// live index. An item matched at the cursor keeps its container (and so
// recurses by CID); a new id absent from the remaining old items is
// inserted at i+offset; anything else means the cursor's old item is
// not wanted here, so it is deleted and the cursor advances. An id that
// moved *earlier* relative to the cursor has therefore already been
// deleted by the time the walk reaches it and comes back as an insert —
// a plain (non-movable) ListContainer has no move op; true in-place
// reordering is what movable lists are for.
func diffListByIdentity(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldSeq, newSeq []any) error {
	itemSchema := listItemSchema(schema)

	oldIndexByID := make(map[string]int, len(oldSeq))
	oldID := make([]string, len(oldSeq))
	for i, v := range oldSeq {
		id := identityOf(schema, v, i)
		if id == "" {
			return &InvalidShapeError{Path: path, Reason: "identity selector produced an empty id"}
		}
		if _, dup := oldIndexByID[id]; dup {
			return &DuplicateIdentityError{ID: id}
		}
		oldIndexByID[id] = i
		oldID[i] = id
	}

	seenNew := make(map[string]bool, len(newSeq))
	i := 0
	offset := 0
	for newPos := 0; newPos < len(newSeq); {
		v := newSeq[newPos]
		id := identityOf(schema, v, newPos)
		if id == "" {
			return &InvalidShapeError{Path: path, Reason: "identity selector produced an empty id"}
		}
		if seenNew[id] {
			return &DuplicateIdentityError{ID: id}
		}

		if i < len(oldSeq) && oldID[i] == id {
			seenNew[id] = true
			if !valuesEqual(oldSeq[i], v) {
				if err := diffListSlot(ctx, withSegment(path, id), cid, i+offset, itemSchema, oldSeq[i], v); err != nil {
					return err
				}
			}
			i++
			newPos++
			continue
		}

		if oi, ok := oldIndexByID[id]; !ok || oi < i {
			// Brand new, or already deleted by an earlier pass of the
			// cursor; either way it goes in fresh here.
			seenNew[id] = true
			if err := emitNewChild(ctx, withSegment(path, id), cid, i+offset, itemSchema, v, opInsertForList); err != nil {
				return err
			}
			newPos++
			offset++
			continue
		}

		ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: i + offset})
		i++
		offset--
	}

	for ; i < len(oldSeq); i++ {
		ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: i + offset})
		offset--
	}
	return nil
}

func identityOf(schema *Schema, v any, index int) string {
	if schema != nil && schema.Selector != nil {
		if id, ok := schema.Selector(v); ok {
			return id
		}
	}
	return fmt.Sprintf("#%d", index)
}
