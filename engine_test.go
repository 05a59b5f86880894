package mirror_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticework/mirror"
	"github.com/latticework/mirror/internal/mockdoc"
)

func todoSchema() *mirror.Schema {
	selector := func(item any) (string, bool) {
		m, ok := item.(map[string]any)
		if !ok {
			return "", false
		}
		id, ok := m["id"].(string)
		return id, ok
	}
	return &mirror.Schema{
		Fields: map[string]*mirror.Schema{
			"todos": {
				Kind:       mirror.SchemaMovableList,
				Selector:   selector,
				ItemSchema: &mirror.Schema{Kind: mirror.SchemaMap},
			},
		},
	}
}

func copyState(s mirror.State) map[string]any {
	obj := s.(map[string]any)
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

func TestStoreSeedsEmptyInitialState(t *testing.T) {
	doc := mockdoc.New()
	opts := mirror.DefaultOptions()
	opts.CheckStateConsistency = true

	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, opts)
	require.NoError(t, err)

	state := store.GetState().(map[string]any)
	todos, ok := state["todos"].([]any)
	require.True(t, ok, "todos should be present as an empty list right after construction")
	assert.Len(t, todos, 0)
}

func TestStoreSetStateAppendsAndRoundTrips(t *testing.T) {
	doc := mockdoc.New()
	opts := mirror.DefaultOptions()
	opts.CheckStateConsistency = true

	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, opts)
	require.NoError(t, err)

	changed, err := store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = append(append([]any{}, out["todos"].([]any)...), map[string]any{"id": "1", "title": "first"})
		return out
	}, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	todos := store.GetState().(map[string]any)["todos"].([]any)
	require.Len(t, todos, 1)
	assert.Equal(t, "first", todos[0].(map[string]any)["title"])
}

func TestStoreSetStateNoopReturnsFalse(t *testing.T) {
	doc := mockdoc.New()
	opts := mirror.DefaultOptions()

	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, opts)
	require.NoError(t, err)

	changed, err := store.SetState(func(s mirror.State) mirror.State { return s }, nil)
	require.NoError(t, err)
	assert.False(t, changed, "an update that proposes the identical state should not commit anything")
}

func TestStoreSetStateReorderAndDelete(t *testing.T) {
	doc := mockdoc.New()
	opts := mirror.DefaultOptions()
	opts.CheckStateConsistency = true

	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, opts)
	require.NoError(t, err)

	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = []any{
			map[string]any{"id": "1", "title": "a"},
			map[string]any{"id": "2", "title": "b"},
			map[string]any{"id": "3", "title": "c"},
		}
		return out
	}, nil)
	require.NoError(t, err)

	// Rotate item 3 to the front and drop item 2.
	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = []any{
			map[string]any{"id": "3", "title": "c"},
			map[string]any{"id": "1", "title": "a"},
		}
		return out
	}, nil)
	require.NoError(t, err)

	todos := store.GetState().(map[string]any)["todos"].([]any)
	require.Len(t, todos, 2)
	assert.Equal(t, "3", todos[0].(map[string]any)["id"])
	assert.Equal(t, "1", todos[1].(map[string]any)["id"])
}

func TestStoreSubscribeReceivesEveryStateChange(t *testing.T) {
	doc := mockdoc.New()
	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, mirror.DefaultOptions())
	require.NoError(t, err)

	var seen []mirror.State
	var metas []mirror.ChangeMeta
	unsubscribe := store.Subscribe(func(s mirror.State, meta mirror.ChangeMeta) {
		seen = append(seen, s)
		metas = append(metas, meta)
	})
	defer unsubscribe()

	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = []any{map[string]any{"id": "1", "title": "a"}}
		return out
	}, nil)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	todos := seen[0].(map[string]any)["todos"].([]any)
	assert.Len(t, todos, 1)
	assert.Equal(t, mirror.DirectionToSource, metas[0].Direction)
}

func TestStoreSubscribeTagsPropagate(t *testing.T) {
	doc := mockdoc.New()
	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, mirror.DefaultOptions())
	require.NoError(t, err)

	var lastMeta mirror.ChangeMeta
	unsubscribe := store.Subscribe(func(s mirror.State, meta mirror.ChangeMeta) {
		lastMeta = meta
	})
	defer unsubscribe()

	opts := mirror.DefaultOptions()
	opts.Tags = []string{"from-ui"}
	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = []any{map[string]any{"id": "1", "title": "a"}}
		return out
	}, &opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"from-ui"}, lastMeta.Tags)
}

func TestStoreInboundEventNotifiesFromSource(t *testing.T) {
	doc := mockdoc.New()
	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, mirror.DefaultOptions())
	require.NoError(t, err)

	var lastMeta mirror.ChangeMeta
	unsubscribe := store.Subscribe(func(s mirror.State, meta mirror.ChangeMeta) {
		lastMeta = meta
	})
	defer unsubscribe()

	// Drive an inbound batch indirectly by reaching the document through
	// the store's escape hatch and mutating a root container directly,
	// as a remote peer's local edit would.
	cid, ok := store.RootCID("todos")
	require.True(t, ok)
	container, ok := store.GetDocument().Container(cid)
	require.True(t, ok)
	ml, ok := container.(mirror.MovableListContainer)
	require.True(t, ok)
	require.NoError(t, ml.Insert(0, map[string]any{"id": "1"}))
	require.NoError(t, doc.Commit(""))

	assert.Equal(t, mirror.DirectionFromSource, lastMeta.Direction)
}

func TestStoreStampsCIDWhenSchemaRequests(t *testing.T) {
	doc := mockdoc.New()
	schema := &mirror.Schema{
		Fields: map[string]*mirror.Schema{
			"settings": {
				Kind:    mirror.SchemaMap,
				Options: mirror.SchemaOptions{WithCID: true},
				Catchall: &mirror.Schema{
					Kind:    mirror.SchemaMap,
					Options: mirror.SchemaOptions{WithCID: true},
				},
			},
		},
	}
	store, err := mirror.NewStore(doc, schema, map[string]any{"settings": map[string]any{}}, mirror.DefaultOptions())
	require.NoError(t, err)

	rootCID, ok := store.RootCID("settings")
	require.True(t, ok)
	settings := store.GetState().(map[string]any)["settings"].(map[string]any)
	assert.Equal(t, string(rootCID), settings["$cid"], "a root map with WithCID must carry its container's $cid")

	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		cur := out["settings"].(map[string]any)
		next := make(map[string]any, len(cur)+1)
		for k, v := range cur {
			next[k] = v
		}
		next["theme"] = map[string]any{"dark": true}
		out["settings"] = next
		return out
	}, nil)
	require.NoError(t, err)

	settings = store.GetState().(map[string]any)["settings"].(map[string]any)
	theme := settings["theme"].(map[string]any)
	themeCID, ok := theme["$cid"].(string)
	require.True(t, ok, "a nested map created by SetState must be stamped with its $cid")
	assert.True(t, theme["dark"].(bool))

	// The stamped $cid really is the live container's identity, and the
	// synthesized field never leaks into the document itself.
	c, ok := store.GetDocument().Container(mirror.CID(themeCID))
	require.True(t, ok)
	assert.Equal(t, mirror.KindMap, c.Kind())
	snap, err := store.GetDocument().Snapshot(mirror.CID(themeCID))
	require.NoError(t, err)
	_, leaked := snap.(map[string]any)["$cid"]
	assert.False(t, leaked, "$cid must never be written to the CRDT")
}

func TestStoreSetStateReentrantIsNoop(t *testing.T) {
	doc := mockdoc.New()
	store, err := mirror.NewStore(doc, todoSchema(), map[string]any{"todos": []any{}}, mirror.DefaultOptions())
	require.NoError(t, err)

	_, err = store.SetState(func(s mirror.State) mirror.State {
		out := copyState(s)
		out["todos"] = []any{map[string]any{"id": "1", "title": "a"}}
		return out
	}, nil)
	require.NoError(t, err)
	before := store.GetState()

	var reentrantChanged bool
	var reentrantErr error
	_, err = store.SetState(func(s mirror.State) mirror.State {
		reentrantChanged, reentrantErr = store.SetState(func(s mirror.State) mirror.State {
			out := copyState(s)
			out["todos"] = []any{}
			return out
		}, nil)
		return s
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, reentrantErr, "a re-entrant SetState call must be swallowed silently, not surfaced as an error")
	assert.False(t, reentrantChanged, "a re-entrant SetState call must report no change")
	assert.Equal(t, before, store.GetState(), "state must be left untouched by the dropped re-entrant call")
}
