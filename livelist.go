package livequery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

/*
A live, observable, sectioned projection of the objects matching a query:
- the published snapshot is immutable and replaced by a single atomic swap,
  never mutated in place, so reads are race-free without a lock
- observers are weakly held by owner and notified after every committed
  change, in the order the underlying changes occurred
- refetch is asynchronous; it stages the new query and returns. only the
  last query staged before the next execution opportunity takes effect.
- all snapshot mutation, refetch execution, and observer notification run
  on one serialization goroutine
*/
type LiveList struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    Store
	settings *LiveListSettings

	stateLock sync.Mutex
	closed    bool
	// staged query for the next refetch execution. nil when no refetch
	// is pending.
	pendingQuery *Query
	// the active query/handle/translator generation. notifications from
	// any other generation are dropped.
	query      *Query
	handle     WatchHandle
	translator *changeTranslator
	// opaque per-instance key/value storage for host-framework interop.
	// not interpreted here.
	userInfo map[string]any

	snapshot atomic.Pointer[Snapshot]

	observers           *observerRegistry
	willChangeCallbacks *CallbackList[WillChangeFunction]

	events chan func()

	logInfo  LogFunction
	logTrace LogFunction
}

// fires on the serialization goroutine strictly before the snapshot
// swap, with the previous snapshot still published. compatible with
// reactive "about to change" adapters.
type WillChangeFunction = func(list *LiveList)

func DefaultLiveListSettings() *LiveListSettings {
	return &LiveListSettings{
		EventBufferSize: 32,
	}
}

type LiveListSettings struct {
	// capacity of the serialized event queue
	EventBufferSize int
}

// NewLiveList executes the query against the store and starts watching
// for changes. Construction requires a successful first fetch; a store
// error here is returned, unlike later refetch errors which are
// swallowed.
func NewLiveList(ctx context.Context, store Store, clauses ...QueryClause) (*LiveList, error) {
	return NewLiveListWithSettings(ctx, store, NewQuery(clauses...), DefaultLiveListSettings())
}

func NewLiveListWithSettings(
	ctx context.Context,
	store Store,
	query *Query,
	settings *LiveListSettings,
) (*LiveList, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	listId := NewItemId()
	list := &LiveList{
		ctx:                 cancelCtx,
		cancel:              cancel,
		store:               store,
		settings:            settings,
		query:               query,
		userInfo:            map[string]any{},
		observers:           newObserverRegistry(),
		willChangeCallbacks: NewCallbackList[WillChangeFunction](),
		events:              make(chan func(), settings.EventBufferSize),
		logInfo:             LogFn(fmt.Sprintf("livelist[%s]", listId)),
		logTrace:            VLogFn(1, fmt.Sprintf("livelist[%s]", listId)),
	}
	list.snapshot.Store(newEmptySnapshot())

	handle, err := store.Execute(query)
	if err != nil {
		cancel()
		return nil, err
	}
	translator := newChangeTranslator(list, query)
	list.handle = handle
	list.translator = translator
	// attach before the initial read so a change landing in between is
	// not lost. the run loop has not started, so a raced notification
	// only queues an event and cannot commit before the initial
	// snapshot.
	handle.SetDelegate(translator)
	list.publish(translator.translate(handle.Result()))

	go list.run()

	return list, nil
}

func (self *LiveList) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case event := <-self.events:
			event()
		}
	}
}

// schedules an event on the serialization goroutine, preserving arrival
// order. drops the event if the list has been closed.
func (self *LiveList) post(event func()) bool {
	select {
	case <-self.ctx.Done():
		return false
	case self.events <- event:
		return true
	}
}

// entry point for translated store changes. may be called from the
// store's own execution context; the actual commit is serialized.
func (self *LiveList) storeChanged(translator *changeTranslator, snapshot *Snapshot) {
	self.post(func() {
		if self.ctx.Err() != nil {
			return
		}
		self.stateLock.Lock()
		active := self.translator == translator
		self.stateLock.Unlock()
		if !active {
			// a notification from a severed handle raced in. drop it.
			return
		}
		if self.snapshot.Load().equal(snapshot) {
			// the change is already reflected, e.g. it was observed by
			// both a fetch and the change stream
			return
		}
		self.publish(snapshot)
	})
}

// serialization goroutine only.
// the will-change callbacks fire strictly before the swap; the observer
// registry is notified strictly after. the swap itself is one atomic
// assignment, so no observer can see a torn snapshot.
func (self *LiveList) publish(snapshot *Snapshot) {
	for _, willChangeCallback := range self.willChangeCallbacks.Get() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					self.logInfo("will-change panic: %v", r)
				}
			}()
			willChangeCallback(self)
		}()
	}
	self.snapshot.Store(snapshot)
	self.logTrace("commit %d sections / %d items", snapshot.NumberOfSections(), snapshot.NumberOfItems())
	self.observers.notifyAll(self)
}

// Refetch stages a new query built from `clauses` for asynchronous
// re-execution and returns immediately. The new snapshot is not
// guaranteed to be visible when this returns. A refetch staged before a
// prior one executes supersedes it: exactly one execution runs, with
// the last staged query.
func (self *LiveList) Refetch(clauses ...QueryClause) {
	self.RefetchQuery(NewQuery(clauses...))
}

func (self *LiveList) RefetchQuery(query *Query) {
	self.stateLock.Lock()
	scheduled := self.pendingQuery != nil
	self.pendingQuery = query
	self.stateLock.Unlock()
	if scheduled {
		// an execute event is already queued. it picks up the latest
		// staged query when it runs.
		return
	}
	self.post(func() {
		self.executePending()
	})
}

// serialization goroutine only
func (self *LiveList) executePending() {
	self.stateLock.Lock()
	query := self.pendingQuery
	self.pendingQuery = nil
	self.stateLock.Unlock()
	if query == nil {
		// superseded and already executed
		return
	}

	handle, err := self.store.Execute(query)
	if err != nil {
		// the store is typically unavailable because the owning context
		// is being torn down. keep the previous snapshot.
		self.logInfo("refetch abandoned: %s", err)
		return
	}
	if self.ctx.Err() != nil {
		// closed while the fetch was in flight
		handle.Close()
		return
	}

	translator := newChangeTranslator(self, query)
	handle.SetDelegate(translator)
	snapshot := translator.translate(handle.Result())

	self.stateLock.Lock()
	if self.closed {
		// `Close` ran while the fetch was in flight. installing the new
		// handle now would leave it open past teardown.
		self.stateLock.Unlock()
		handle.SetDelegate(nil)
		handle.Close()
		return
	}
	prevHandle := self.handle
	self.query = query
	self.handle = handle
	self.translator = translator
	self.stateLock.Unlock()

	if prevHandle != nil {
		// sever the delegate link so stale notifications cannot land
		// after replacement. `storeChanged` also drops notifications
		// from inactive translators.
		prevHandle.SetDelegate(nil)
		prevHandle.Close()
	}

	self.logTrace("refetch swap")

	if self.ctx.Err() != nil {
		return
	}
	self.publish(snapshot)
}

// the currently published snapshot
func (self *LiveList) Snapshot() *Snapshot {
	return self.snapshot.Load()
}

func (self *LiveList) NumberOfSections() int {
	return self.Snapshot().NumberOfSections()
}

func (self *LiveList) NumberOfItems() int {
	return self.Snapshot().NumberOfItems()
}

func (self *LiveList) SectionIds() []SectionId {
	return self.Snapshot().SectionIds()
}

func (self *LiveList) ItemIds(sectionId SectionId) []ItemId {
	return self.Snapshot().ItemIds(sectionId)
}

// the active query definition
func (self *LiveList) Query() *Query {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.query
}

func (self *LiveList) resolver() Resolver {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.handle == nil {
		return nil
	}
	return self.handle
}

// ObjectAt returns a lazy proxy for the item at `indexPath` in the
// current snapshot. Accessors are pure reads; they never fetch or
// touch the store beyond deferred resolution.
func (self *LiveList) ObjectAt(indexPath IndexPath) (LiveObject, bool) {
	itemId, ok := self.Snapshot().ItemIdAt(indexPath)
	if !ok {
		return LiveObject{}, false
	}
	return LiveObject{itemId: itemId, resolver: self.resolver()}, true
}

// ObjectForId returns a lazy proxy if the item is present in the
// current snapshot. An id referencing a since-removed item yields
// `false`, never an error.
func (self *LiveList) ObjectForId(itemId ItemId) (LiveObject, bool) {
	if _, ok := self.Snapshot().SectionOf(itemId); !ok {
		return LiveObject{}, false
	}
	return LiveObject{itemId: itemId, resolver: self.resolver()}, true
}

// Objects returns lazy proxies for the items at `indices` in a section,
// skipping indices outside the section
func (self *LiveList) Objects(sectionId SectionId, indices ...int) []LiveObject {
	itemIds := self.Snapshot().ItemIds(sectionId)
	resolver := self.resolver()
	objects := []LiveObject{}
	for _, index := range indices {
		if index < 0 || len(itemIds) <= index {
			continue
		}
		objects = append(objects, LiveObject{itemId: itemIds[index], resolver: resolver})
	}
	return objects
}

// AddWillChangeCallback registers a callback that fires before every
// snapshot replacement. Returns an unsubscribe function.
func (self *LiveList) AddWillChangeCallback(willChangeCallback WillChangeFunction) func() {
	callbackId := self.willChangeCallbacks.Add(willChangeCallback)
	return func() {
		self.willChangeCallbacks.Remove(callbackId)
	}
}

func (self *LiveList) SetUserInfo(key string, value any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.userInfo[key] = value
}

func (self *LiveList) UserInfo(key string) (any, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	value, ok := self.userInfo[key]
	return value, ok
}

// Close detaches from the store first, so no notification can land
// after teardown begins, then stops the serialization goroutine and
// clears the observer registry. Safe to call more than once.
func (self *LiveList) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	handle := self.handle
	self.handle = nil
	self.translator = nil
	self.pendingQuery = nil
	self.stateLock.Unlock()

	if handle != nil {
		handle.SetDelegate(nil)
		handle.Close()
	}

	self.cancel()
	self.observers.clear()
	self.willChangeCallbacks.Clear()
	self.logTrace("close")
}
