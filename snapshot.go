package livequery

import (
	"fmt"
	"slices"
)

// one section of a snapshot under construction: the section id and its
// ordered item ids
type SnapshotSection struct {
	SectionId SectionId
	ItemIds   []ItemId
}

// an immutable, ordered, two-level (section -> items) identifier index.
// a snapshot is constructed fresh on every committed change and swapped
// in as a single atomic publish, so readers always see a complete,
// consistent version. all accessors are pure reads.
type Snapshot struct {
	sectionIds     []SectionId
	sectionItemIds map[SectionId][]ItemId
	// item id -> containing section
	itemSections map[ItemId]SectionId
	// item id -> flat position across all sections
	itemIndexes map[ItemId]int
	// item id -> (section index, item index in section)
	itemPaths map[ItemId]IndexPath
}

func newEmptySnapshot() *Snapshot {
	return newSnapshot([]SnapshotSection{})
}

// panics if an item id appears more than once across all sections, or if
// a section id repeats. both are contract violations by the caller, not
// recoverable runtime conditions.
func newSnapshot(sections []SnapshotSection) *Snapshot {
	snapshot := &Snapshot{
		sectionIds:     make([]SectionId, 0, len(sections)),
		sectionItemIds: map[SectionId][]ItemId{},
		itemSections:   map[ItemId]SectionId{},
		itemIndexes:    map[ItemId]int{},
		itemPaths:      map[ItemId]IndexPath{},
	}
	flatIndex := 0
	for sectionIndex, section := range sections {
		if _, ok := snapshot.sectionItemIds[section.SectionId]; ok {
			panic(fmt.Errorf("Duplicate section id in snapshot: %s", section.SectionId))
		}
		snapshot.sectionIds = append(snapshot.sectionIds, section.SectionId)
		itemIds := slices.Clone(section.ItemIds)
		snapshot.sectionItemIds[section.SectionId] = itemIds
		for itemIndex, itemId := range itemIds {
			if _, ok := snapshot.itemSections[itemId]; ok {
				panic(fmt.Errorf("Duplicate item id in snapshot: %s", itemId))
			}
			snapshot.itemSections[itemId] = section.SectionId
			snapshot.itemIndexes[itemId] = flatIndex
			snapshot.itemPaths[itemId] = IndexPath{
				Section: sectionIndex,
				Item:    itemIndex,
			}
			flatIndex += 1
		}
	}
	return snapshot
}

func (self *Snapshot) NumberOfSections() int {
	return len(self.sectionIds)
}

func (self *Snapshot) NumberOfItems() int {
	return len(self.itemSections)
}

func (self *Snapshot) NumberOfItemsInSection(sectionId SectionId) int {
	return len(self.sectionItemIds[sectionId])
}

func (self *Snapshot) SectionIds() []SectionId {
	return slices.Clone(self.sectionIds)
}

// the ordered item ids in a section. nil if the section is absent.
func (self *Snapshot) ItemIds(sectionId SectionId) []ItemId {
	itemIds, ok := self.sectionItemIds[sectionId]
	if !ok {
		return nil
	}
	return slices.Clone(itemIds)
}

// all item ids in flat order
func (self *Snapshot) AllItemIds() []ItemId {
	allItemIds := make([]ItemId, 0, len(self.itemSections))
	for _, sectionId := range self.sectionIds {
		allItemIds = append(allItemIds, self.sectionItemIds[sectionId]...)
	}
	return allItemIds
}

// reverse lookup of the section containing an item
func (self *Snapshot) SectionOf(itemId ItemId) (SectionId, bool) {
	sectionId, ok := self.itemSections[itemId]
	return sectionId, ok
}

// -1 if the section is absent
func (self *Snapshot) IndexOfSection(sectionId SectionId) int {
	return slices.Index(self.sectionIds, sectionId)
}

// the flat position of an item across all sections. -1 if absent.
func (self *Snapshot) IndexOfItem(itemId ItemId) int {
	flatIndex, ok := self.itemIndexes[itemId]
	if !ok {
		return -1
	}
	return flatIndex
}

func (self *Snapshot) IndexPathOf(itemId ItemId) (IndexPath, bool) {
	indexPath, ok := self.itemPaths[itemId]
	return indexPath, ok
}

// true if both snapshots expose the same sections with the same items
// in the same order
func (self *Snapshot) equal(snapshot *Snapshot) bool {
	if !slices.Equal(self.sectionIds, snapshot.sectionIds) {
		return false
	}
	for _, sectionId := range self.sectionIds {
		if !slices.Equal(self.sectionItemIds[sectionId], snapshot.sectionItemIds[sectionId]) {
			return false
		}
	}
	return true
}

func (self *Snapshot) ItemIdAt(indexPath IndexPath) (ItemId, bool) {
	if indexPath.Section < 0 || len(self.sectionIds) <= indexPath.Section {
		return ItemId{}, false
	}
	itemIds := self.sectionItemIds[self.sectionIds[indexPath.Section]]
	if indexPath.Item < 0 || len(itemIds) <= indexPath.Item {
		return ItemId{}, false
	}
	return itemIds[indexPath.Item], true
}
