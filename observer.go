package livequery

import (
	"sync"
	"weak"
)

// called on the serialization goroutine after each committed snapshot
// change, with the snapshot already swapped in
type ObserverFunction = func(list *LiveList)

type observerEntry struct {
	// liveness probe for the weakly held owner
	alive    func() bool
	callback ObserverFunction
}

// weak-keyed (owner), strong-valued (callback) subscription registry.
// the registry never keeps an owner reachable. entries whose owner has
// been collected are skipped and purged during notification, so owners
// are not required to call `remove` before they go away.
type observerRegistry struct {
	mutex sync.Mutex
	// keyed by the owner's weak pointer. weak pointers created from the
	// same pointer compare equal, which makes them a stable identity
	// token without keeping the owner alive.
	entries map[any]*observerEntry

	log LogFunction
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{
		entries: map[any]*observerEntry{},
		log:     LogFn("observers"),
	}
}

// re-adding the same owner replaces the prior callback
func (self *observerRegistry) add(ownerKey any, alive func() bool, callback ObserverFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.entries[ownerKey] = &observerEntry{
		alive:    alive,
		callback: callback,
	}
}

// idempotent if the owner is not present
func (self *observerRegistry) remove(ownerKey any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.entries, ownerKey)
}

func (self *observerRegistry) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	clear(self.entries)
}

// the number of entries whose owner is still alive
func (self *observerRegistry) count() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	count := 0
	for _, entry := range self.entries {
		if entry.alive() {
			count += 1
		}
	}
	return count
}

// iteration order is unspecified. callbacks are invoked outside the
// lock and guarded against panics so one misbehaving observer cannot
// stall the notification cycle.
func (self *observerRegistry) notifyAll(list *LiveList) {
	callbacks := []ObserverFunction{}
	func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		for ownerKey, entry := range self.entries {
			if !entry.alive() {
				delete(self.entries, ownerKey)
				continue
			}
			callbacks = append(callbacks, entry.callback)
		}
	}()
	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					self.log("observer panic: %v", r)
				}
			}()
			callback(list)
		}()
	}
}

// AddObserver associates `callback` with `owner`. The list holds only a
// weak reference to the owner: when the owner is collected the entry is
// silently dropped on the next notification cycle. Adding again for the
// same owner replaces the callback.
//
// These are package functions rather than methods so the owner type can
// be generic.
func AddObserver[O any](list *LiveList, owner *O, callback ObserverFunction) {
	p := weak.Make(owner)
	list.observers.add(
		p,
		func() bool {
			return p.Value() != nil
		},
		callback,
	)
}

// RemoveObserver removes the callback registered for `owner`, if any.
func RemoveObserver[O any](list *LiveList, owner *O) {
	list.observers.remove(weak.Make(owner))
}
