package mirror

import (
	"sort"

	"github.com/latticework/mirror/internal/lis"
	"github.com/latticework/mirror/internal/rbtree"
)

// diffMovableList reconciles a movable list. Items are matched by
// schema.Selector the same way diffListByIdentity matches them; the
// difference is that a genuine reordering of a matched item is expressed
// as a single Move op rather than a delete-then-reinsert, since
// MovableListContainer preserves the moved item's own CID (its content,
// and any nested container it holds, survives the move untouched).
//
// With no Selector configured there is no stable identity to plan moves
// against, so a movable-list schema with no selector degrades to the
// same positional diff a plain List would use.
func diffMovableList(ctx *diffCtx, path []PathSegment, cid CID, schema *Schema, oldSeq, newSeq []any) error {
	if schema == nil || schema.Selector == nil {
		return diffListByIndex(ctx, path, cid, schema, oldSeq, newSeq)
	}
	itemSchema := schema.ItemSchema

	oldIndexByID := make(map[string]int, len(oldSeq))
	for i, v := range oldSeq {
		id := identityOf(schema, v, i)
		if _, dup := oldIndexByID[id]; dup {
			return &DuplicateIdentityError{ID: id}
		}
		oldIndexByID[id] = i
	}

	matchedOldIndex := make([]int, len(newSeq))
	newID := make([]string, len(newSeq))
	seenNew := make(map[string]bool, len(newSeq))
	var matchedSeq []int // old indices, in new order — one entry per matched item
	for i, v := range newSeq {
		id := identityOf(schema, v, i)
		if seenNew[id] {
			return &DuplicateIdentityError{ID: id}
		}
		seenNew[id] = true
		newID[i] = id
		if oi, ok := oldIndexByID[id]; ok {
			matchedOldIndex[i] = oi
			matchedSeq = append(matchedSeq, oi)
		} else {
			matchedOldIndex[i] = -1
		}
	}

	// Phase A: drop old items with no surviving identity, highest index
	// first so earlier deletes don't invalidate later ones.
	matchedOld := make(map[int]bool, len(matchedSeq))
	for _, oi := range matchedSeq {
		matchedOld[oi] = true
	}
	var deletions []int
	for i := range oldSeq {
		if !matchedOld[i] {
			deletions = append(deletions, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(deletions)))
	for _, i := range deletions {
		ctx.script.emit(Op{Kind: OpDelete, Target: cid, Key: i})
	}

	// Phase B: after phase A, the live list holds exactly the M matched
	// items in their old relative order. keepAt (a longest increasing
	// run of old indices, read in new order) is the maximal subset that
	// is already correctly ordered relative to one another and needs no
	// move; every other matched item gets exactly one Move (a pure
	// rotation leaves all but one item in the run, so a single-element
	// rotation emits exactly one move).
	keepAt := lis.Indices(matchedSeq)
	kept := make(map[int]bool, len(keepAt))
	for _, k := range keepAt {
		kept[k] = true
	}

	planner := newMovePlanner(matchedSeq)
	for k := range matchedSeq {
		if kept[k] {
			continue
		}
		from, to := planner.moveTo(k, k)
		if from != to {
			ctx.script.emit(Op{Kind: OpMove, Target: cid, FromIndex: from, ToIndex: to})
		}
	}

	// Phase C: insert items with no old counterpart, in ascending final
	// index so each lands to the right of every matched item already
	// placed before it (the matched items are now in correct relative
	// order after phase B).
	for i, oi := range matchedOldIndex {
		if oi >= 0 {
			continue
		}
		if err := emitNewChild(ctx, withSegment(path, newID[i]), cid, i, itemSchema, newSeq[i], opInsertForList); err != nil {
			return err
		}
	}

	// Phase D: recurse into every matched pair's content by its stable
	// CID, regardless of whether it moved.
	for i, oi := range matchedOldIndex {
		if oi < 0 {
			continue
		}
		oldVal, newVal := oldSeq[oi], newSeq[i]
		if valuesEqual(oldVal, newVal) {
			continue
		}
		childPath := withSegment(path, newID[i])
		if err := diffListSlot(ctx, childPath, cid, i, itemSchema, oldVal, newVal); err != nil {
			return err
		}
	}
	return nil
}

// movePlanner tracks, for each plan index (an item's rank in the target
// order), its current live position within the document's list, letting
// the loop above ask "where does this item actually sit right now" after
// earlier moves have shifted everything around it. It is backed by an
// rbtree.PositionIndex keyed by live position so that shifting every
// entry past a vacated or newly-opened slot is a single ordered walk
// rather than a rescan of a plan slice.
type movePlanner struct {
	positions *rbtree.PositionIndex
	posOf     map[int]int
}

// newMovePlanner builds a planner for M matched items, where
// oldIndexInNewOrder[k] is the old index of the item ranked k in the
// target order. Initial live positions are those items' ranks among
// themselves sorted by old index — exactly the order they occupy right
// after phase A's deletions leave only matched items behind.
func newMovePlanner(oldIndexInNewOrder []int) *movePlanner {
	rank := make(map[int]int, len(oldIndexInNewOrder))
	sorted := append([]int(nil), oldIndexInNewOrder...)
	sort.Ints(sorted)
	for pos, oi := range sorted {
		rank[oi] = pos
	}

	positions := &rbtree.PositionIndex{}
	posOf := make(map[int]int, len(oldIndexInNewOrder))
	for k, oi := range oldIndexInNewOrder {
		pos := rank[oi]
		positions.Insert(rbtree.Item{Position: pos, PlanIndex: k})
		posOf[k] = pos
	}
	return &movePlanner{positions: positions, posOf: posOf}
}

// moveTo relocates plan index k to target, returning the (from, to) pair
// to emit as a change-script Move op under splice semantics (to is the
// index within the array as it stands immediately after the removal).
func (p *movePlanner) moveTo(k, target int) (from, to int) {
	from = p.posOf[k]
	p.positions.DeleteWithKey(from)
	p.shiftRange(from, -1)
	to = target
	p.shiftRange(to, 1)
	p.positions.Insert(rbtree.Item{Position: to, PlanIndex: k})
	p.posOf[k] = to
	return from, to
}

// shiftRange renumbers every entry with Position >= from by delta,
// keeping posOf in sync. Used to compact the gap left by a removal
// (delta -1) and to open room for an insertion (delta +1).
func (p *movePlanner) shiftRange(from int, delta int) {
	var touched []rbtree.Item
	for it := p.positions.FindGE(from); !it.Limit(); it = it.Next() {
		touched = append(touched, *it.Item())
	}
	for _, item := range touched {
		p.positions.DeleteWithKey(item.Position)
	}
	for _, item := range touched {
		newPos := item.Position + delta
		p.positions.Insert(rbtree.Item{Position: newPos, PlanIndex: item.PlanIndex})
		p.posOf[item.PlanIndex] = newPos
	}
}
