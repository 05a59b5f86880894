package rbtree

import (
	"math/rand"
	"sort"
	"testing"
)

func collectFrom(idx *PositionIndex, position int) []Item {
	var out []Item
	for it := idx.FindGE(position); !it.Limit(); it = it.Next() {
		out = append(out, *it.Item())
	}
	return out
}

func TestInsertRejectsDuplicatePosition(t *testing.T) {
	idx := &PositionIndex{}
	if !idx.Insert(Item{Position: 3, PlanIndex: 0}) {
		t.Fatal("first insert at position 3 should succeed")
	}
	if idx.Insert(Item{Position: 3, PlanIndex: 1}) {
		t.Fatal("second insert at position 3 should be rejected")
	}
}

func TestFindGEWalksInPositionOrder(t *testing.T) {
	idx := &PositionIndex{}
	for _, p := range []int{5, 1, 9, 3, 7} {
		idx.Insert(Item{Position: p, PlanIndex: p * 10})
	}

	got := collectFrom(idx, 4)
	wantPositions := []int{5, 7, 9}
	if len(got) != len(wantPositions) {
		t.Fatalf("FindGE(4) walked %v, want positions %v", got, wantPositions)
	}
	for i, item := range got {
		if item.Position != wantPositions[i] {
			t.Fatalf("FindGE(4) walked %v, want positions %v", got, wantPositions)
		}
		if item.PlanIndex != wantPositions[i]*10 {
			t.Fatalf("item at position %d lost its plan index: %+v", item.Position, item)
		}
	}
}

func TestDeleteWithKey(t *testing.T) {
	idx := &PositionIndex{}
	for p := 0; p < 10; p++ {
		idx.Insert(Item{Position: p, PlanIndex: p})
	}

	if !idx.DeleteWithKey(4) {
		t.Fatal("deleting an existing position should succeed")
	}
	if idx.DeleteWithKey(4) {
		t.Fatal("deleting the same position twice should fail")
	}

	got := collectFrom(idx, 0)
	if len(got) != 9 {
		t.Fatalf("expected 9 items after delete, got %d", len(got))
	}
	for _, item := range got {
		if item.Position == 4 {
			t.Fatalf("position 4 still present after delete: %v", got)
		}
	}
}

// The planner's workload is interleaved inserts and deletes at arbitrary
// positions; this exercises the balancing paths the targeted cases above
// don't reach, checking the walk order against a plain sorted slice.
func TestRandomizedAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	idx := &PositionIndex{}
	reference := map[int]int{}

	for step := 0; step < 2000; step++ {
		p := rng.Intn(200)
		if _, exists := reference[p]; exists && rng.Intn(2) == 0 {
			if !idx.DeleteWithKey(p) {
				t.Fatalf("step %d: delete of present position %d failed", step, p)
			}
			delete(reference, p)
			continue
		}
		inserted := idx.Insert(Item{Position: p, PlanIndex: step})
		if _, exists := reference[p]; exists {
			if inserted {
				t.Fatalf("step %d: duplicate insert at %d accepted", step, p)
			}
			continue
		}
		if !inserted {
			t.Fatalf("step %d: insert at free position %d rejected", step, p)
		}
		reference[p] = step
	}

	var wantPositions []int
	for p := range reference {
		wantPositions = append(wantPositions, p)
	}
	sort.Ints(wantPositions)

	got := collectFrom(idx, 0)
	if len(got) != len(wantPositions) {
		t.Fatalf("tree holds %d items, reference holds %d", len(got), len(wantPositions))
	}
	for i, item := range got {
		if item.Position != wantPositions[i] {
			t.Fatalf("walk out of order at %d: got position %d, want %d", i, item.Position, wantPositions[i])
		}
		if item.PlanIndex != reference[item.Position] {
			t.Fatalf("position %d carries plan index %d, want %d", item.Position, item.PlanIndex, reference[item.Position])
		}
	}
}
