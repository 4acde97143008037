package livequery

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// comparable
type ItemId [16]byte

func NewItemId() ItemId {
	return ItemId(ulid.Make())
}

func ItemIdFromBytes(idBytes []byte) (ItemId, error) {
	if len(idBytes) != 16 {
		return ItemId{}, errors.New("ItemId must be 16 bytes")
	}
	return ItemId(idBytes), nil
}

func ItemIdFromString(idStr string) (ItemId, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return ItemId{}, err
	}
	return ItemId(id), nil
}

func (self ItemId) Bytes() []byte {
	idBytes := make([]byte, len(self))
	copy(idBytes, self[:])
	return idBytes
}

func (self ItemId) String() string {
	return ulid.ULID(self).String()
}

// comparable
// section ids are the store's raw section names after the query's
// label transform has been applied
type SectionId string

// position of one item in a sectioned snapshot
type IndexPath struct {
	Section int
	Item    int
}

func (self IndexPath) String() string {
	return fmt.Sprintf("[%d.%d]", self.Section, self.Item)
}
