package livequery

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"golang.org/x/exp/maps"
)

// the store-specific query value handed to `Tweak` clauses by
// MemoryStore and DirStore
type MemoryQuerySpec struct {
	// truncate the sorted result to at most this many items. 0 means
	// no limit.
	Limit int
}

// an in-process store for tests and small collections. documents are
// `map[string]any` values keyed by item id. filter clauses are expr
// expressions evaluated against each document; order and group clauses
// reference dotted field paths. every mutation re-evaluates the active
// handles and emits the full section-ordered state to their delegates.
type MemoryStore struct {
	stateLock    sync.Mutex
	objects      map[ItemId]map[string]any
	handles      map[int]*memoryWatchHandle
	nextHandleId int
	closed       bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[ItemId]map[string]any{},
		handles: map[int]*memoryWatchHandle{},
	}
}

// Insert mints a new item id for the document
func (self *MemoryStore) Insert(object map[string]any) ItemId {
	itemId := NewItemId()
	self.Put(itemId, object)
	return itemId
}

// Put upserts the document under an existing id
func (self *MemoryStore) Put(itemId ItemId, object map[string]any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return
	}
	self.objects[itemId] = object
	self.changed()
}

func (self *MemoryStore) Delete(itemId ItemId) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return
	}
	if _, ok := self.objects[itemId]; !ok {
		return
	}
	delete(self.objects, itemId)
	self.changed()
}

func (self *MemoryStore) Get(itemId ItemId) (map[string]any, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	object, ok := self.objects[itemId]
	return object, ok
}

func (self *MemoryStore) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.objects)
}

// Close tears the store down. `Execute` fails afterwards; active
// handles stop delivering.
func (self *MemoryStore) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	handles := maps.Values(self.handles)
	clear(self.handles)
	self.stateLock.Unlock()

	for _, handle := range handles {
		handle.stop()
	}
}

// Store
func (self *MemoryStore) Execute(query *Query) (WatchHandle, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return nil, fmt.Errorf("store closed")
	}

	var program *vm.Program
	if query.Filter != "" {
		var err error
		program, err = expr.Compile(
			query.Filter,
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			return nil, err
		}
	}

	spec := &MemoryQuerySpec{}
	query.tweak(spec)

	handleId := self.nextHandleId
	self.nextHandleId += 1
	handle := newMemoryWatchHandle(self, handleId, query, program, spec)
	handle.result = self.evaluate(query, program, spec)
	self.handles[handleId] = handle

	go handle.deliver()

	return handle, nil
}

// must be called inside the state lock
func (self *MemoryStore) changed() {
	for _, handle := range self.handles {
		result := self.evaluate(handle.query, handle.program, handle.spec)
		handle.push(result)
	}
}

// must be called inside the state lock.
// runs the full match/order/group pipeline and returns the
// section-ordered state. a document that fails filter evaluation at
// runtime is treated as a non-match.
func (self *MemoryStore) evaluate(query *Query, program *vm.Program, spec *MemoryQuerySpec) *RawChange {
	matchedItemIds := []ItemId{}
	for _, itemId := range maps.Keys(self.objects) {
		object := self.objects[itemId]
		if program != nil {
			out, err := expr.Run(program, object)
			if err != nil {
				continue
			}
			if matched, ok := out.(bool); !ok || !matched {
				continue
			}
		}
		matchedItemIds = append(matchedItemIds, itemId)
	}

	slices.SortStableFunc(matchedItemIds, func(a ItemId, b ItemId) int {
		objectA := self.objects[a]
		objectB := self.objects[b]
		for _, order := range query.Orders {
			c := compareFieldValues(
				fieldValue(objectA, order.Key),
				fieldValue(objectB, order.Key),
			)
			if c != 0 {
				if order.Descending {
					return -c
				}
				return c
			}
		}
		// stable total order independent of map iteration
		return bytes.Compare(a[:], b[:])
	})

	if 0 < spec.Limit && spec.Limit < len(matchedItemIds) {
		matchedItemIds = matchedItemIds[:spec.Limit]
	}

	// sections in order of first appearance among the sorted items
	sectionNames := []string{}
	sectionItemIds := map[string][]ItemId{}
	for _, itemId := range matchedItemIds {
		name := ""
		if query.Group != nil {
			if value := fieldValue(self.objects[itemId], query.Group.Key); value != nil {
				name = fmt.Sprint(value)
			}
		}
		if _, ok := sectionItemIds[name]; !ok {
			sectionNames = append(sectionNames, name)
		}
		sectionItemIds[name] = append(sectionItemIds[name], itemId)
	}

	sections := make([]RawSection, 0, len(sectionNames))
	for _, name := range sectionNames {
		sections = append(sections, RawSection{
			Name:    name,
			ItemIds: sectionItemIds[name],
		})
	}
	return &RawChange{Sections: sections}
}

// descends a dotted field path through nested maps
func fieldValue(object map[string]any, key string) any {
	if key == "" {
		return nil
	}
	parts := strings.Split(key, ".")
	var value any = object
	for _, part := range parts {
		valueMap, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = valueMap[part]
	}
	return value
}

func compareFieldValues(a any, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if fa, aOk := toFloat(a); aOk {
		if fb, bOk := toFloat(b); bOk {
			switch {
			case fa < fb:
				return -1
			case fb < fa:
				return 1
			default:
				return 0
			}
		}
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb)
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case !va && vb:
				return -1
			case va && !vb:
				return 1
			default:
				return 0
			}
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

type memoryWatchHandle struct {
	store    *MemoryStore
	handleId int
	query    *Query
	program  *vm.Program
	spec     *MemoryQuerySpec

	mutex    sync.Mutex
	cond     *sync.Cond
	pending  []*RawChange
	result   *RawChange
	delegate WatchDelegate
	closed   bool
}

func newMemoryWatchHandle(
	store *MemoryStore,
	handleId int,
	query *Query,
	program *vm.Program,
	spec *MemoryQuerySpec,
) *memoryWatchHandle {
	handle := &memoryWatchHandle{
		store:    store,
		handleId: handleId,
		query:    query,
		program:  program,
		spec:     spec,
		pending:  []*RawChange{},
	}
	handle.cond = sync.NewCond(&handle.mutex)
	return handle
}

// queues a changed result for ordered delivery. results equal to the
// last queued state are dropped so that no-op mutations do not notify.
func (self *memoryWatchHandle) push(result *RawChange) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return
	}
	if self.result.equal(result) {
		return
	}
	self.result = result
	self.pending = append(self.pending, result)
	self.cond.Signal()
}

// delivers queued changes to the delegate one at a time, in arrival
// order. changes queued while no delegate is attached are held, never
// dequeued and dropped; they remain reflected in `result` until a
// delegate attaches. the delegate is read per delivery so severing
// takes effect on the next notification; recipients drop notifications
// from handles they no longer consider active (see
// WatchHandle.SetDelegate).
func (self *memoryWatchHandle) deliver() {
	for {
		self.mutex.Lock()
		for (len(self.pending) == 0 || self.delegate == nil) && !self.closed {
			self.cond.Wait()
		}
		if self.closed {
			self.mutex.Unlock()
			return
		}
		change := self.pending[0]
		self.pending = self.pending[1:]
		delegate := self.delegate
		self.mutex.Unlock()

		delegate.StoreChanged(self, change)
	}
}

func (self *memoryWatchHandle) stop() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	self.delegate = nil
	self.cond.Broadcast()
}

// WatchHandle
func (self *memoryWatchHandle) Result() *RawChange {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.result
}

// WatchHandle
func (self *memoryWatchHandle) SetDelegate(delegate WatchDelegate) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.delegate = delegate
	if delegate != nil {
		// everything queued so far is already reflected in `result`.
		// the new delegate starts from `Result` and only receives
		// changes after this point, never a stale replay.
		self.pending = self.pending[:0]
		self.cond.Broadcast()
	}
}

// WatchHandle
func (self *memoryWatchHandle) Resolve(itemId ItemId) (Object, bool) {
	object, ok := self.store.Get(itemId)
	if !ok {
		return nil, false
	}
	return object, true
}

// WatchHandle
func (self *memoryWatchHandle) Close() {
	self.store.stateLock.Lock()
	delete(self.store.handles, self.handleId)
	self.store.stateLock.Unlock()
	self.stop()
}
