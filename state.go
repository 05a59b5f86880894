package mirror

// State is the mirrored application state: a finite JSON-like tree whose
// leaves are string, float64, bool, or nil, and whose interior nodes are
// map[string]any (object) or []any (sequence). Tree containers mirror as
// []any of node values shaped {id, data, children}.
type State = any

// TreeNode is the Go-side shape of a mirrored tree container element.
// children is itself []any of TreeNode-shaped values.
type TreeNode struct {
	ID       TreeNodeID
	Data     map[string]any
	Children []any
}

// toTreeNode reads a State value that is expected to have the tree-node
// shape. It returns ok=false if the shape is wrong (invalid-shape at the
// caller's discretion).
func toTreeNode(v any) (TreeNode, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return TreeNode{}, false
	}
	id, _ := m["id"].(string)
	data, _ := m["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	children, _ := m["children"].([]any)
	return TreeNode{ID: TreeNodeID(id), Data: data, Children: children}, true
}

func (n TreeNode) toValue() map[string]any {
	children := n.Children
	if children == nil {
		children = []any{}
	}
	return map[string]any{
		"id":       string(n.ID),
		"data":     n.Data,
		"children": children,
	}
}

// withKey returns a shallow copy of m with key set to value, sharing
// every other entry's value by reference (copy-on-write at the edited
// level only).
func withKey(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

// withoutKey returns a shallow copy of m with key removed.
func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}

// withIndex returns a shallow copy of s with s[index] set to value.
func withIndex(s []any, index int, value any) []any {
	out := make([]any, len(s))
	copy(out, s)
	out[index] = value
	return out
}

// asObject coerces v to a map[string]any, materializing an empty map for
// nil (the "missing node" neutral baseline for a map diff).
func asObject(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// asSequence coerces v to []any, materializing an empty slice for nil
// (the neutral baseline for a list/tree diff).
func asSequence(v any) []any {
	if v == nil {
		return []any{}
	}
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{}
}

// asString coerces v to a string, materializing "" for nil (the neutral
// baseline for a text diff).
func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// asNumber coerces v to a float64, materializing 0 for nil (the neutral
// baseline for a counter diff).
func asNumber(v any) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// valuesEqual is a structural, map-key-order-independent equality check
// over State values. It exists instead of reflect.DeepEqual so that
// equivalent map iteration orders and int/float64 leaf representations
// compare equal (the mirrored tree only ever holds float64 numbers, but
// callers' updaters may hand back plain ints).
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !valuesEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		default:
			return false
		}
	case int:
		return valuesEqual(float64(av), b)
	default:
		return a == b
	}
}

// stripCID returns a copy of m with the synthesized $cid field removed,
// used whenever the diff engine iterates a map's keys to emit CRDT
// operations; $cid is invisible to the CRDT.
func stripCID(m map[string]any) map[string]any {
	if _, ok := m[CIDField]; !ok {
		return m
	}
	return withoutKey(m, CIDField)
}
