package mockdoc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticework/mirror"
	"github.com/latticework/mirror/internal/mockdoc"
)

func commitAndCollect(t *testing.T, doc *mockdoc.Document) []mirror.Event {
	t.Helper()
	var got []mirror.Event
	unsubscribe := doc.Subscribe(func(batch mirror.EventBatch) {
		got = append(got, batch.Events...)
	})
	defer unsubscribe()
	require.NoError(t, doc.Commit("test-origin"))
	return got
}

func TestMapSetAndDeleteEmitPathedEvents(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todo", mirror.KindMap)
	require.NoError(t, err)

	c, ok := doc.Container(root)
	require.True(t, ok)
	m := c.(mirror.MapContainer)
	require.NoError(t, m.Set("title", "buy milk"))

	events := commitAndCollect(t, doc)
	require.Len(t, events, 1)
	assert.Equal(t, []mirror.PathSegment{"todo"}, events[0].Path)
	assert.Equal(t, mirror.KindMap, events[0].Diff.Kind)
	assert.Equal(t, "buy milk", events[0].Diff.Map.Updated["title"].Primitive)

	require.NoError(t, m.Delete("title"))
	events = commitAndCollect(t, doc)
	require.Len(t, events, 1)
	assert.True(t, events[0].Diff.Map.Updated["title"].Deleted)
}

func TestListInsertTracksNestedContainerPath(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindList)
	require.NoError(t, err)

	listC, ok := doc.Container(root)
	require.True(t, ok)
	l := listC.(mirror.ListContainer)

	childCID, err := doc.CreateContainer(root, 0, mirror.KindMap)
	require.NoError(t, err)
	require.NoError(t, l.Insert(0, childCID))

	childC, ok := doc.Container(childCID)
	require.True(t, ok)
	childMap := childC.(mirror.MapContainer)
	require.NoError(t, childMap.Set("title", "first"))

	events := commitAndCollect(t, doc)
	require.Len(t, events, 2)
	assert.Equal(t, []mirror.PathSegment{"todos", 0}, events[1].Path)
}

func TestListInsertShiftsLaterSiblingPaths(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindList)
	require.NoError(t, err)
	listC, _ := doc.Container(root)
	l := listC.(mirror.ListContainer)

	firstChild, err := doc.CreateContainer(root, 0, mirror.KindMap)
	require.NoError(t, err)
	require.NoError(t, l.Insert(0, firstChild))

	secondChild, err := doc.CreateContainer(root, 1, mirror.KindMap)
	require.NoError(t, err)
	require.NoError(t, l.Insert(1, secondChild))

	// Insert a brand-new item at the front; secondChild's recorded index
	// should shift from 1 to 2.
	require.NoError(t, l.Insert(0, "x"))

	fc, _ := doc.Container(secondChild)
	fm := fc.(mirror.MapContainer)
	require.NoError(t, fm.Set("title", "moved along"))

	events := commitAndCollect(t, doc)
	require.Len(t, events, 4)
	assert.Equal(t, []mirror.PathSegment{"todos", 2}, events[3].Path)
}

func TestListDeleteForgetsRemovedContainer(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindList)
	require.NoError(t, err)
	listC, _ := doc.Container(root)
	l := listC.(mirror.ListContainer)

	childCID, err := doc.CreateContainer(root, 0, mirror.KindMap)
	require.NoError(t, err)
	require.NoError(t, l.Insert(0, childCID))

	require.NoError(t, l.Delete(0, 1))
	_, ok := doc.Container(childCID)
	assert.False(t, ok, "a deleted container should no longer be reachable")
}

func TestMovableListMoveEmitsEquivalentRetainDeleteInsert(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindMovableList)
	require.NoError(t, err)
	listC, ok := doc.Container(root)
	require.True(t, ok)
	movable, ok := listC.(mirror.MovableListContainer)
	require.True(t, ok, "a movable-list container must satisfy MovableListContainer")

	require.NoError(t, movable.Insert(0, "a"))
	require.NoError(t, movable.Insert(1, "b"))
	require.NoError(t, movable.Insert(2, "c"))

	require.NoError(t, movable.Move(2, 0))

	snap, err := doc.Snapshot(root)
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "a", "b"}, snap)

	events := commitAndCollect(t, doc)
	require.Len(t, events, 4)
	assert.Equal(t, mirror.KindMovableList, events[3].Diff.Kind)
}

func TestPlainListDoesNotSatisfyMovableListContainer(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindList)
	require.NoError(t, err)
	c, ok := doc.Container(root)
	require.True(t, ok)
	_, isMovable := c.(mirror.MovableListContainer)
	assert.False(t, isMovable, "a plain list must not structurally satisfy MovableListContainer")
}

func TestTextUpdateEmitsRetainDeleteInsertRun(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "notes", mirror.KindText)
	require.NoError(t, err)
	c, ok := doc.Container(root)
	require.True(t, ok)
	text := c.(mirror.TextContainer)

	require.NoError(t, text.Update("hello world"))
	events := commitAndCollect(t, doc)
	require.Len(t, events, 1)
	assert.Equal(t, "hello world", text.Value())
	assert.NotEmpty(t, events[0].Diff.Text.Ops)
}

func TestCounterIncrementAccumulates(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "score", mirror.KindCounter)
	require.NoError(t, err)
	c, ok := doc.Container(root)
	require.True(t, ok)
	counter := c.(mirror.CounterContainer)

	require.NoError(t, counter.Increment(3))
	require.NoError(t, counter.Increment(-1))
	assert.Equal(t, float64(2), counter.Value())

	events := commitAndCollect(t, doc)
	require.Len(t, events, 2)
}

func TestTreeCreateMoveDeleteTracksNodeDataPath(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "outline", mirror.KindTree)
	require.NoError(t, err)
	c, ok := doc.Container(root)
	require.True(t, ok)
	tree := c.(mirror.TreeContainer)

	parentID, _, err := tree.CreateNode(nil, 0)
	require.NoError(t, err)

	childID, childDataCID, err := tree.CreateNode(&parentID, 0)
	require.NoError(t, err)

	childData, ok := doc.Container(childDataCID)
	require.True(t, ok)
	childMap := childData.(mirror.MapContainer)
	require.NoError(t, childMap.Set("title", "leaf"))

	events := commitAndCollect(t, doc)
	var sawChildSet bool
	for _, ev := range events {
		if ev.Target == childDataCID {
			sawChildSet = true
			assert.Equal(t, []mirror.PathSegment{"outline", parentID, childID, "data"}, ev.Path)
		}
	}
	assert.True(t, sawChildSet, "expected an event targeting the child's data map")

	require.NoError(t, tree.MoveNode(childID, nil, 0))
	moveEvents := commitAndCollect(t, doc)
	require.Len(t, moveEvents, 1)
	assert.Equal(t, mirror.TreeOpMove, moveEvents[0].Diff.Tree.Ops[0].Kind)

	require.NoError(t, tree.DeleteNode(childID))
	_, stillThere := doc.Container(childDataCID)
	assert.False(t, stillThere, "deleting a tree node should forget its data container")

	cid, hasData := tree.NodeDataCID(parentID)
	assert.NotEmpty(t, cid)
	assert.True(t, hasData)
}

func TestSnapshotProjectsNestedContainersAsPlainJSON(t *testing.T) {
	doc := mockdoc.New()
	root, err := doc.CreateContainer(mirror.RootCID, "todos", mirror.KindList)
	require.NoError(t, err)
	listC, _ := doc.Container(root)
	l := listC.(mirror.ListContainer)

	childCID, err := doc.CreateContainer(root, 0, mirror.KindMap)
	require.NoError(t, err)
	require.NoError(t, l.Insert(0, childCID))

	childC, _ := doc.Container(childCID)
	childMap := childC.(mirror.MapContainer)
	require.NoError(t, childMap.Set("title", "first"))

	snap, err := doc.Snapshot(root)
	require.NoError(t, err)
	want := []any{map[string]any{"title": "first"}}
	assert.Equal(t, want, snap)
}
