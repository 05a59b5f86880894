package mirror

import (
	"fmt"
	"io"
	"strings"
)

// Environment is the small set of document-backed lookups the event
// applier needs but cannot derive from the event batch alone. The
// reconciliation engine implements it against the live Document; unit
// tests that need no document lookups construct an Applier without one.
type Environment interface {
	// ContainerJSON returns the deep JSON projection of cid's content,
	// used to bulk-fill a container freshly inserted into a list.
	ContainerJSON(cid CID) (any, error)

	// TreeInjectsCID reports whether the given tree container's node
	// data schema requests $cid injection.
	TreeInjectsCID(tree CID) bool

	// TreeNodeDataCID resolves the CID of a tree node's data map, used
	// to stamp $cid when TreeInjectsCID is true.
	TreeNodeDataCID(tree CID, node TreeNodeID) (CID, bool)
}

// Applier translates a batch of CRDT events into a new immutable state.
// It never writes to the document.
type Applier struct {
	Env Environment

	// Ignore is a mutable set of container CIDs whose events should be
	// skipped this call. The reconciliation engine resets it per batch;
	// the applier adds to it when it bulk-fills a freshly list-inserted
	// container, to avoid double-applying a later event for that same
	// container within the same batch. May be nil.
	Ignore map[CID]bool

	Debug  bool
	Writer io.Writer
}

func (a *Applier) ignored(cid CID) bool {
	return a.Ignore != nil && a.Ignore[cid]
}

func (a *Applier) warnf(format string, args ...any) {
	if !a.Debug || a.Writer == nil {
		return
	}
	fmt.Fprintf(a.Writer, format, args...)
}

// Apply applies batch to state in delivery order and returns the next
// state. Navigation or diff-kind failures on an individual event are
// logged and that event is skipped; the rest of the batch still applies.
func (a *Applier) Apply(state State, batch EventBatch) (State, error) {
	for _, ev := range batch.Events {
		if a.ignored(ev.Target) {
			continue
		}
		next, err := a.applyEvent(state, ev)
		if err != nil {
			switch err.(type) {
			case *UnsupportedSegmentError, *UnsupportedDiffError:
				a.warnf("mirror: skipping event at %v: %v\n", ev.Path, err)
				continue
			default:
				return nil, err
			}
		}
		state = next
	}
	return state, nil
}

func (a *Applier) applyEvent(state State, ev Event) (State, error) {
	cur, err := navigate(state, ev.Path)
	if err != nil {
		return nil, err
	}
	node := cur.Node
	if node == nil {
		node = neutralBaseline(ev.Diff.Kind)
	}

	var newNode any
	switch ev.Diff.Kind {
	case KindMap:
		if ev.Diff.Map == nil {
			return nil, &InternalError{Context: "map event missing MapDiff"}
		}
		newNode = a.applyMapDiff(asObject(node), ev.Diff.Map)
	case KindList, KindMovableList:
		if ev.Diff.List == nil {
			return nil, &InternalError{Context: "list event missing ListDiff"}
		}
		nn, err := a.applyListDiff(asSequence(node), ev.Diff.List)
		if err != nil {
			return nil, err
		}
		newNode = nn
	case KindText:
		if ev.Diff.Text == nil {
			return nil, &InternalError{Context: "text event missing TextDiff"}
		}
		newNode = applyTextDiff(asString(node), ev.Diff.Text)
	case KindCounter:
		if ev.Diff.Counter == nil {
			return nil, &InternalError{Context: "counter event missing CounterDiff"}
		}
		newNode = asNumber(node) + ev.Diff.Counter.Increment
	case KindTree:
		if ev.Diff.Tree == nil {
			return nil, &InternalError{Context: "tree event missing TreeDiff"}
		}
		nn, err := a.applyTreeDiff(ev.Target, asSequence(node), ev.Diff.Tree)
		if err != nil {
			return nil, err
		}
		newNode = nn
	default:
		return nil, &UnsupportedDiffError{Kind: ev.Diff.Kind}
	}

	return setPath(state, ev.Path, newNode)
}

func neutralBaseline(kind ContainerKind) any {
	switch kind {
	case KindMap:
		return map[string]any{}
	case KindList, KindMovableList:
		return []any{}
	case KindText:
		return ""
	case KindCounter:
		return float64(0)
	case KindTree:
		return []any{}
	default:
		return nil
	}
}

func (a *Applier) applyMapDiff(obj map[string]any, diff *MapDiff) map[string]any {
	for key, val := range diff.Updated {
		switch {
		case val.Deleted:
			obj = withoutKey(obj, key)
		case val.Container != nil:
			// Neutral baseline only: the container's own events later in
			// the batch carry its content, so its CID must NOT be ignored
			// here (only list inserts bulk-fill and ignore, below).
			obj = withKey(obj, key, neutralBaseline(val.Container.Kind))
		default:
			// Primitive, including an explicit nil, which is a valid
			// map value and must be preserved as-is.
			obj = withKey(obj, key, val.Primitive)
		}
	}
	return obj
}

func (a *Applier) applyListDiff(seq []any, diff *ListDiff) ([]any, error) {
	result := make([]any, 0, len(seq))
	srcIdx := 0
	for _, op := range diff.Ops {
		switch {
		case op.Retain != nil:
			n := *op.Retain
			if srcIdx+n > len(seq) {
				return nil, &InvalidShapeError{Reason: "list diff retains past end of sequence"}
			}
			result = append(result, seq[srcIdx:srcIdx+n]...)
			srcIdx += n
		case op.Delete != nil:
			n := *op.Delete
			if srcIdx+n > len(seq) {
				n = len(seq) - srcIdx
			}
			srcIdx += n
		case op.Insert != nil:
			for _, item := range op.Insert {
				if ref, ok := item.(*ContainerRef); ok {
					proj, err := a.Env.ContainerJSON(ref.CID)
					if err != nil {
						return nil, err
					}
					result = append(result, proj)
					if a.Ignore != nil {
						a.Ignore[ref.CID] = true
					}
				} else {
					result = append(result, item)
				}
			}
		}
	}
	if srcIdx < len(seq) {
		result = append(result, seq[srcIdx:]...)
	}
	return result, nil
}

func applyTextDiff(text string, diff *TextDiff) string {
	runes := []rune(text)
	var b strings.Builder
	srcIdx := 0
	for _, op := range diff.Ops {
		switch {
		case op.Retain != nil:
			n := *op.Retain
			end := srcIdx + n
			if end > len(runes) {
				end = len(runes)
			}
			b.WriteString(string(runes[srcIdx:end]))
			srcIdx = end
		case op.Delete != nil:
			n := *op.Delete
			srcIdx += n
			if srcIdx > len(runes) {
				srcIdx = len(runes)
			}
		case op.Insert != nil:
			b.WriteString(*op.Insert)
		}
	}
	if srcIdx < len(runes) {
		b.WriteString(string(runes[srcIdx:]))
	}
	return b.String()
}
