package livequery

import (
	"weak"
)

// converts raw store change notifications into snapshots for one
// handle generation. the translator holds only a weak reference back to
// its list, so a notification that arrives while the list is being torn
// down is dropped instead of being delivered to a partially destroyed
// list.
type changeTranslator struct {
	list  weak.Pointer[LiveList]
	query *Query
}

func newChangeTranslator(list *LiveList, query *Query) *changeTranslator {
	return &changeTranslator{
		list:  weak.Make(list),
		query: query,
	}
}

// WatchDelegate
func (self *changeTranslator) StoreChanged(handle WatchHandle, change *RawChange) {
	list := self.list.Value()
	if list == nil {
		// the list is gone
		return
	}
	list.storeChanged(self, self.translate(change))
}

// WatchDelegate
func (self *changeTranslator) SectionLabel(rawName string) (string, bool) {
	if self.query.Group == nil || self.query.Group.LabelFn == nil {
		return "", false
	}
	return self.query.Group.LabelFn(rawName), true
}

// a structural copy with section relabeling. section order and item
// order are preserved exactly as emitted by the store; the translator
// never reorders, renames, or de-duplicates items.
func (self *changeTranslator) translate(change *RawChange) *Snapshot {
	sections := make([]SnapshotSection, 0, len(change.Sections))
	for _, rawSection := range change.Sections {
		sections = append(sections, SnapshotSection{
			SectionId: SectionId(self.query.sectionLabel(rawSection.Name)),
			ItemIds:   rawSection.ItemIds,
		})
	}
	return newSnapshot(sections)
}
