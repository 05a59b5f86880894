package mirror

import "testing"

func TestNavigateMapAndIndexSegments(t *testing.T) {
	root := map[string]any{
		"todos": []any{
			map[string]any{"title": "a"},
			map[string]any{"title": "b"},
		},
	}
	res, err := navigate(root, []PathSegment{"todos", 1, "title"})
	if err != nil {
		t.Fatalf("navigate failed: %v", err)
	}
	if res.Node != "b" {
		t.Fatalf("navigate resolved to %v, want %q", res.Node, "b")
	}
}

func TestNavigateMissingPathYieldsNilNode(t *testing.T) {
	root := map[string]any{"a": map[string]any{}}
	res, err := navigate(root, []PathSegment{"a", "b", "c"})
	if err != nil {
		t.Fatalf("navigate failed: %v", err)
	}
	if res.Node != nil {
		t.Fatalf("expected nil node for a missing path, got %v", res.Node)
	}
}

func TestNavigateTreeNodeIDSegment(t *testing.T) {
	root := []any{
		map[string]any{"id": "n1", "data": map[string]any{}, "children": []any{
			map[string]any{"id": "n2", "data": map[string]any{"x": 1.0}, "children": []any{}},
		}},
	}
	res, err := navigate(root, []PathSegment{TreeNodeID("n1"), TreeNodeID("n2"), "data", "x"})
	if err != nil {
		t.Fatalf("navigate failed: %v", err)
	}
	if res.Node != 1.0 {
		t.Fatalf("navigate through tree node ids resolved to %v, want 1.0", res.Node)
	}
}

func TestSetPathPreservesSiblingStructure(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"x": 1.0},
		"b": map[string]any{"y": 2.0},
	}
	updated, err := setPath(root, []PathSegment{"a", "x"}, 99.0)
	if err != nil {
		t.Fatalf("setPath failed: %v", err)
	}
	obj := updated.(map[string]any)
	if obj["a"].(map[string]any)["x"] != 99.0 {
		t.Fatalf("setPath did not update the target leaf")
	}
	if obj["b"].(map[string]any)["y"] != 2.0 {
		t.Fatalf("setPath disturbed an unrelated sibling")
	}
	// Original must be untouched (structural sharing, not in-place mutation).
	if root["a"].(map[string]any)["x"] != 1.0 {
		t.Fatalf("setPath mutated its input root")
	}
}

func TestSetPathIntoSequenceIndex(t *testing.T) {
	root := []any{"a", "b", "c"}
	updated, err := setPath(root, []PathSegment{1}, "B")
	if err != nil {
		t.Fatalf("setPath failed: %v", err)
	}
	seq := updated.([]any)
	if seq[1] != "B" || seq[0] != "a" || seq[2] != "c" {
		t.Fatalf("setPath produced unexpected sequence: %v", seq)
	}
}
