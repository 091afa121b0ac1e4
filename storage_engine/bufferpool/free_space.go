package bufferpool

import "slices"

/*
Free space map for index files.
Vacuum records pages that became empty; the page store asks for one before extending the file.
Lowest page number first, so files stay dense at the front.
Nothing here is persisted: after a restart vacuum rebuilds it on its next pass.
*/

func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{free: make(map[uint32][]int64)}
}

// RecordFree marks a local page of fileID reusable. Duplicate records are ignored.
func (fsm *FreeSpaceMap) RecordFree(fileID uint32, localPage int64) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	list := fsm.free[fileID]
	i, found := slices.BinarySearch(list, localPage)
	if found {
		return
	}
	fsm.free[fileID] = slices.Insert(list, i, localPage)
}

// TakeFree removes and returns the lowest free page of fileID.
func (fsm *FreeSpaceMap) TakeFree(fileID uint32) (int64, bool) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	list := fsm.free[fileID]
	if len(list) == 0 {
		return 0, false
	}
	localPage := list[0]
	fsm.free[fileID] = list[1:]
	return localPage, true
}

// Forget drops every entry of fileID.
func (fsm *FreeSpaceMap) Forget(fileID uint32) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	delete(fsm.free, fileID)
}

// Count returns how many pages of fileID are recorded free.
func (fsm *FreeSpaceMap) Count(fileID uint32) int {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return len(fsm.free[fileID])
}
