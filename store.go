package livequery

// the external store boundary. the engine never evaluates predicates or
// interprets objects itself; it consumes the already-evaluated,
// section-ordered result the store emits and re-exposes it as a
// relabeled snapshot.

// an opaque stored object. the store owns object lifetime.
type Object = any

// one raw section as evaluated by the store's grouping/sort: the
// unlabeled section name and the ordered item ids in it
type RawSection struct {
	Name    string
	ItemIds []ItemId
}

// one fetched or changed result: the full ordered section/item state
type RawChange struct {
	Sections []RawSection
}

func (self *RawChange) equal(change *RawChange) bool {
	if len(self.Sections) != len(change.Sections) {
		return false
	}
	for i, section := range self.Sections {
		changeSection := change.Sections[i]
		if section.Name != changeSection.Name {
			return false
		}
		if len(section.ItemIds) != len(changeSection.ItemIds) {
			return false
		}
		for j, itemId := range section.ItemIds {
			if itemId != changeSection.ItemIds[j] {
				return false
			}
		}
	}
	return true
}

type WatchDelegate interface {
	// delivered from the store's own execution context, exactly one
	// notification at a time, in arrival order
	StoreChanged(handle WatchHandle, change *RawChange)
	// optional display label override for a raw section name
	SectionLabel(rawName string) (label string, ok bool)
}

// a live handle to one executed query. emits future raw changes to at
// most one delegate.
type WatchHandle interface {
	// the most recently fetched state
	Result() *RawChange
	// nil severs the delegate link. a notification already in flight
	// may still land after this returns; recipients must drop
	// notifications from handles they no longer consider active.
	// changes that occur while no delegate is attached must not be
	// discarded: they stay reflected in `Result`, and a delegate
	// attached later starts from `Result` without a stale replay.
	SetDelegate(delegate WatchDelegate)
	Resolver
	Close()
}

type Store interface {
	// runs the initial fetch and returns a live handle that will emit
	// future raw change notifications. fails if the store is
	// unavailable.
	Execute(query *Query) (WatchHandle, error)
}

// resolves an item id to the stored object on demand
type Resolver interface {
	Resolve(itemId ItemId) (Object, bool)
}

// a lazy handle to one stored object. carries only the item id and a
// non-owning reference to the resolver. resolution happens on every
// `Get` and is never cached, so a proxy stays cheap to create and safe
// to hold after the underlying object is removed.
type LiveObject struct {
	itemId   ItemId
	resolver Resolver
}

func (self LiveObject) ItemId() ItemId {
	return self.itemId
}

func (self LiveObject) Get() (Object, bool) {
	if self.resolver == nil {
		return nil, false
	}
	return self.resolver.Resolve(self.itemId)
}
