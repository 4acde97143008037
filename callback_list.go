package livequery

import (
	"slices"
	"sync"
)

type callbackListEntry[T any] struct {
	callbackId int
	callback   T
}

// makes a copy of the list on update so that iteration via `Get`
// never holds the lock
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	entries        []callbackListEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		entries: []callbackListEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.entries))
	for i, entry := range self.entries {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	nextEntries := slices.Clone(self.entries)
	nextEntries = append(nextEntries, callbackListEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.entries = nextEntries
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.entries, func(entry callbackListEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.Delete(nextEntries, i, i+1)
	self.entries = nextEntries
}

func (self *CallbackList[T]) Clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.entries = []callbackListEntry[T]{}
}
