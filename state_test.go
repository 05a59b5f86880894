package mirror

import "testing"

func TestValuesEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal maps", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, true},
		{"int vs float64 leaf", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"different length maps", map[string]any{"a": 1.0}, map[string]any{}, false},
		{"equal slices", []any{1.0, "x"}, []any{1.0, "x"}, true},
		{"different slices", []any{1.0}, []any{2.0}, false},
		{"nil vs empty map", nil, map[string]any{}, false},
		{"equal strings", "hi", "hi", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := valuesEqual(c.a, c.b); got != c.want {
				t.Errorf("valuesEqual(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestWithKeyDoesNotMutateOriginal(t *testing.T) {
	original := map[string]any{"a": 1.0}
	updated := withKey(original, "b", 2.0)

	if _, ok := original["b"]; ok {
		t.Fatalf("withKey mutated the original map")
	}
	if updated["a"] != 1.0 || updated["b"] != 2.0 {
		t.Fatalf("withKey produced unexpected result: %v", updated)
	}
}

func TestStripCIDRemovesOnlyCIDField(t *testing.T) {
	m := map[string]any{"$cid": "abc", "name": "x"}
	stripped := stripCID(m)

	if _, ok := stripped[CIDField]; ok {
		t.Fatalf("stripCID left %s in place", CIDField)
	}
	if stripped["name"] != "x" {
		t.Fatalf("stripCID dropped an unrelated field")
	}
	if _, ok := m[CIDField]; !ok {
		t.Fatalf("stripCID mutated its input")
	}
}

func TestTreeNodeRoundTrip(t *testing.T) {
	v := map[string]any{
		"id":       "n1",
		"data":     map[string]any{"title": "root"},
		"children": []any{},
	}
	tn, ok := toTreeNode(v)
	if !ok {
		t.Fatalf("toTreeNode rejected a well-shaped node")
	}
	if tn.ID != "n1" || tn.Data["title"] != "root" {
		t.Fatalf("toTreeNode produced unexpected node: %+v", tn)
	}
	back := tn.toValue()
	if back["id"] != "n1" {
		t.Fatalf("toValue lost the node id")
	}
}
