package types

import "fmt"

// RowPointer points to a specific row in a heap file. Index leaf tuples carry
// one as the back-reference to the indexed row.
type RowPointer struct {
	FileID     uint32 `json:"file_id"`
	PageNumber uint32 `json:"page_number"`
	SlotIndex  uint16 `json:"slot_index"` // Index in the slot directory
}

func (r RowPointer) String() string {
	return fmt.Sprintf("(%d,%d,%d)", r.FileID, r.PageNumber, r.SlotIndex)
}
