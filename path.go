package mirror

import "fmt"

// navResult is the outcome of resolving a path against a state root:
// the parent container value, the key/index the last segment denotes
// within it, and the resolved node itself (nil if missing).
type navResult struct {
	Parent any
	Key    any // string | int
	Node   any
}

// navigate resolves path against root and returns the parent/key/node
// triple. An empty path denotes the root itself, in which case Parent
// and Key are nil and Node is root.
//
// Navigating into a missing node yields Node == nil while preserving the
// last valid parent/key, so callers (the event applier) can still locate
// where to materialize a neutral baseline.
func navigate(root any, path []PathSegment) (navResult, error) {
	if len(path) == 0 {
		return navResult{Node: root}, nil
	}
	var parent any
	var key any
	node := root
	for _, seg := range path {
		parent = node
		switch s := seg.(type) {
		case int:
			seq, ok := node.([]any)
			if !ok || s < 0 || s >= len(seq) {
				key = s
				node = nil
				continue
			}
			key = s
			node = seq[s]
		case string:
			resolved, nextNode, err := navigateStringSegment(node, s)
			if err != nil {
				return navResult{}, err
			}
			key = resolved
			node = nextNode
		case TreeNodeID:
			// A tree-node id segment resolves either against a node
			// sequence directly (the tree's root) or against a node
			// object's children (one level deeper in the tree).
			container := node
			if obj, ok := node.(map[string]any); ok {
				container = obj["children"]
			}
			idx, found := findTreeNodeIndex(container, s)
			if !found {
				key = s
				node = nil
				continue
			}
			parent = container
			key = idx
			node = container.([]any)[idx]
		default:
			return navResult{}, &UnsupportedSegmentError{Segment: seg}
		}
	}
	return navResult{Parent: parent, Key: key, Node: node}, nil
}

// navigateStringSegment resolves a string path segment. Two special
// cases apply:
//
//   - inside a sequence of tree-node-shaped values, a string segment is
//     treated as a tree-node id search;
//   - inside an ordinary object that is itself a tree node (has both
//     "id" and "children"), the segment "meta" is remapped to "data".
func navigateStringSegment(node any, seg string) (key any, next any, err error) {
	if seq, ok := node.([]any); ok {
		idx, found := findTreeNodeIndex(seq, TreeNodeID(seg))
		if found {
			return idx, seq[idx], nil
		}
		return seg, nil, nil
	}
	if obj, ok := node.(map[string]any); ok {
		name := seg
		if isTreeNodeShape(obj) && seg == "meta" {
			name = "data"
		}
		v, present := obj[name]
		if !present {
			return name, nil, nil
		}
		return name, v, nil
	}
	return seg, nil, nil
}

func isTreeNodeShape(obj map[string]any) bool {
	_, hasID := obj["id"]
	_, hasChildren := obj["children"]
	return hasID && hasChildren
}

// setPath returns a copy of root with the value at path replaced by
// newNode, sharing structure with root everywhere else. An empty path
// replaces the root itself. Segments are resolved
// the same way navigate does, so a path the applier already walked
// successfully always resolves the same way here.
func setPath(root any, path []PathSegment, newNode any) (any, error) {
	if len(path) == 0 {
		return newNode, nil
	}
	seg := path[0]
	rest := path[1:]
	switch s := seg.(type) {
	case int:
		seq := asSequence(root)
		if s < 0 || s >= len(seq) {
			return nil, &InvalidShapeError{Path: path, Reason: "index out of range while writing back"}
		}
		child, err := setPath(seq[s], rest, newNode)
		if err != nil {
			return nil, err
		}
		return withIndex(seq, s, child), nil
	case string:
		if seq, ok := root.([]any); ok {
			// A string segment inside a sequence addresses an element by
			// its "id" field, the same way navigate resolves it.
			idx, found := findTreeNodeIndex(seq, TreeNodeID(s))
			if !found {
				return nil, &InvalidShapeError{Path: path, Reason: fmt.Sprintf("element %q not found while writing back", s)}
			}
			child, err := setPath(seq[idx], rest, newNode)
			if err != nil {
				return nil, err
			}
			return withIndex(seq, idx, child), nil
		}
		obj := asObject(root)
		name := s
		if isTreeNodeShape(obj) && s == "meta" {
			name = "data"
		}
		child, err := setPath(obj[name], rest, newNode)
		if err != nil {
			return nil, err
		}
		return withKey(obj, name, child), nil
	case TreeNodeID:
		if obj, ok := root.(map[string]any); ok {
			children := asSequence(obj["children"])
			idx, found := findTreeNodeIndex(children, s)
			if !found {
				return nil, &InvalidShapeError{Path: path, Reason: fmt.Sprintf("tree node %s not found while writing back", s)}
			}
			child, err := setPath(children[idx], rest, newNode)
			if err != nil {
				return nil, err
			}
			return withKey(obj, "children", withIndex(children, idx, child)), nil
		}
		seq := asSequence(root)
		idx, found := findTreeNodeIndex(seq, s)
		if !found {
			return nil, &InvalidShapeError{Path: path, Reason: fmt.Sprintf("tree node %s not found while writing back", s)}
		}
		child, err := setPath(seq[idx], rest, newNode)
		if err != nil {
			return nil, err
		}
		return withIndex(seq, idx, child), nil
	default:
		return nil, &UnsupportedSegmentError{Segment: seg}
	}
}

// findTreeNodeIndex searches a sequence of tree-node-shaped values for
// one whose "id" equals id, returning its index.
func findTreeNodeIndex(node any, id TreeNodeID) (int, bool) {
	seq, ok := node.([]any)
	if !ok {
		return 0, false
	}
	for i, v := range seq {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if nid, _ := obj["id"].(string); nid == string(id) {
			return i, true
		}
	}
	return 0, false
}
