package livequery

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testStoreDelegate struct {
	changes chan *RawChange
}

func newTestStoreDelegate() *testStoreDelegate {
	return &testStoreDelegate{
		changes: make(chan *RawChange, 16),
	}
}

// WatchDelegate
func (self *testStoreDelegate) StoreChanged(handle WatchHandle, change *RawChange) {
	self.changes <- change
}

// WatchDelegate
func (self *testStoreDelegate) SectionLabel(rawName string) (string, bool) {
	return "", false
}

func awaitRawChange(t *testing.T, delegate *testStoreDelegate) *RawChange {
	select {
	case change := <-delegate.changes:
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for store change")
		return nil
	}
}

func newFruitStore() (*MemoryStore, map[string]ItemId) {
	store := NewMemoryStore()
	itemIds := map[string]ItemId{}
	for _, object := range []map[string]any{
		{"name": "banana", "kind": "fruit", "color": "yellow", "rank": 1},
		{"name": "apple", "kind": "fruit", "color": "red", "rank": 2},
		{"name": "cherry", "kind": "fruit", "color": "red", "rank": 3},
		{"name": "carrot", "kind": "vegetable", "color": "orange", "rank": 4},
		{"name": "pea", "kind": "vegetable", "color": "green", "rank": 5},
	} {
		itemIds[object["name"].(string)] = store.Insert(object)
	}
	return store, itemIds
}

func TestMemoryStoreFilterOrderGroup(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(
		Where(`kind == "fruit"`),
		OrderBy("rank"),
		GroupBy("color", nil),
	))
	assert.Equal(t, nil, err)
	defer handle.Close()

	// sections in order of first appearance among the sorted items
	result := handle.Result()
	assert.Equal(t, []RawSection{
		{
			Name:    "yellow",
			ItemIds: []ItemId{itemIds["banana"]},
		},
		{
			Name:    "red",
			ItemIds: []ItemId{itemIds["apple"], itemIds["cherry"]},
		},
	}, result.Sections)
}

func TestMemoryStoreOrderDesc(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(
		Where(`kind == "fruit"`),
		OrderByDesc("rank"),
	))
	assert.Equal(t, nil, err)
	defer handle.Close()

	// no grouping yields a single unnamed section
	result := handle.Result()
	assert.Equal(t, 1, len(result.Sections))
	assert.Equal(t, "", result.Sections[0].Name)
	assert.Equal(t, []ItemId{
		itemIds["cherry"],
		itemIds["apple"],
		itemIds["banana"],
	}, result.Sections[0].ItemIds)
}

func TestMemoryStoreChangeNotifications(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(
		Where(`kind == "fruit"`),
		OrderBy("rank"),
	))
	assert.Equal(t, nil, err)
	defer handle.Close()

	delegate := newTestStoreDelegate()
	handle.SetDelegate(delegate)

	// a mutation outside the result set emits nothing. the next change
	// received must already reflect the matching mutation after it.
	store.Put(itemIds["carrot"], map[string]any{
		"name": "carrot", "kind": "vegetable", "color": "orange", "rank": 6,
	})
	grapeId := store.Insert(map[string]any{
		"name": "grape", "kind": "fruit", "color": "green", "rank": 0,
	})

	change := awaitRawChange(t, delegate)
	assert.Equal(t, 1, len(change.Sections))
	assert.Equal(t, []ItemId{
		grapeId,
		itemIds["banana"],
		itemIds["apple"],
		itemIds["cherry"],
	}, change.Sections[0].ItemIds)

	store.Delete(itemIds["banana"])
	change = awaitRawChange(t, delegate)
	assert.Equal(t, []ItemId{
		grapeId,
		itemIds["apple"],
		itemIds["cherry"],
	}, change.Sections[0].ItemIds)

	// severing the delegate stops delivery
	handle.SetDelegate(nil)
	store.Delete(grapeId)
	select {
	case <-delegate.changes:
		t.Fatal("change delivered after delegate severed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryStoreHoldsChangesUntilDelegateAttaches(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(
		Where(`kind == "fruit"`),
		OrderBy("rank"),
	))
	assert.Equal(t, nil, err)
	defer handle.Close()
	memoryHandle := handle.(*memoryWatchHandle)

	// a change with no delegate attached stays queued and reflected in
	// Result. it must not be dequeued and discarded.
	store.Delete(itemIds["banana"])
	time.Sleep(50 * time.Millisecond)
	memoryHandle.mutex.Lock()
	pendingCount := len(memoryHandle.pending)
	memoryHandle.mutex.Unlock()
	assert.Equal(t, 1, pendingCount)
	assert.Equal(t, 2, len(handle.Result().Sections[0].ItemIds))

	// a delegate attached later starts from Result. the first change it
	// receives is the next mutation, never a stale replay.
	delegate := newTestStoreDelegate()
	handle.SetDelegate(delegate)
	figId := store.Insert(map[string]any{
		"name": "fig", "kind": "fruit", "color": "purple", "rank": 9,
	})
	change := awaitRawChange(t, delegate)
	assert.Equal(t, []ItemId{
		itemIds["apple"],
		itemIds["cherry"],
		figId,
	}, change.Sections[0].ItemIds)
	select {
	case <-delegate.changes:
		t.Fatal("stale change replayed after attach")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryStoreTweakLimit(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(
		OrderBy("rank"),
		Tweak(func(storeQuery any) {
			storeQuery.(*MemoryQuerySpec).Limit = 2
		}),
	))
	assert.Equal(t, nil, err)
	defer handle.Close()

	result := handle.Result()
	assert.Equal(t, 1, len(result.Sections))
	assert.Equal(t, []ItemId{
		itemIds["banana"],
		itemIds["apple"],
	}, result.Sections[0].ItemIds)
}

func TestMemoryStoreResolve(t *testing.T) {
	store, itemIds := newFruitStore()
	defer store.Close()

	handle, err := store.Execute(NewQuery(OrderBy("rank")))
	assert.Equal(t, nil, err)
	defer handle.Close()

	object, ok := handle.Resolve(itemIds["apple"])
	assert.Equal(t, true, ok)
	assert.Equal(t, "apple", object.(map[string]any)["name"])

	_, ok = handle.Resolve(NewItemId())
	assert.Equal(t, false, ok)
}

func TestMemoryStoreBadFilter(t *testing.T) {
	store, _ := newFruitStore()
	defer store.Close()

	_, err := store.Execute(NewQuery(Where(`kind ==`)))
	assert.NotEqual(t, nil, err)
}

func TestMemoryStoreClosed(t *testing.T) {
	store, _ := newFruitStore()
	store.Close()

	_, err := store.Execute(NewQuery(OrderBy("rank")))
	assert.NotEqual(t, nil, err)
}
