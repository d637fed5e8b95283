// Package handle tracks open-file state: which branch a file was opened
// from, the open flags, and the live file descriptor. Once a handle is
// bound to a branch, reads and writes stay on that branch until
// move-on-ENOSPC re-binds it.
package handle

import (
	"sync"
	"sync/atomic"
)

// NoBranch marks a handle with no branch affinity yet.
const NoBranch = -1

// FileHandle is one open file at the overlay level.
type FileHandle struct {
	ID        uint64
	Ino       uint64
	Path      string
	OpenFlags int
	// BranchIdx is the index into the branch pool the file was opened
	// from, or NoBranch. Mutated only by move-on-ENOSPC.
	BranchIdx int
	// Fd is the underlying descriptor, or -1 when the handle carries
	// none.
	Fd       int
	DirectIO bool
}

// Table is the process-wide open-file table. IDs start at 1; 0 is never
// handed out.
type Table struct {
	mu      sync.RWMutex
	handles map[uint64]*FileHandle
	nextID  atomic.Uint64
}

func NewTable() *Table {
	t := &Table{handles: make(map[uint64]*FileHandle)}
	return t
}

// Create registers a new open file and returns its handle ID.
func (t *Table) Create(ino uint64, path string, flags int, branchIdx int, fd int) uint64 {
	id := t.nextID.Add(1)
	fh := &FileHandle{
		ID:        id,
		Ino:       ino,
		Path:      path,
		OpenFlags: flags,
		BranchIdx: branchIdx,
		Fd:        fd,
	}
	t.mu.Lock()
	t.handles[id] = fh
	t.mu.Unlock()
	return id
}

// Get returns a copy of the handle state, so callers never hold a
// reference that move-on-ENOSPC could mutate under them.
func (t *Table) Get(id uint64) (FileHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fh, ok := t.handles[id]
	if !ok {
		return FileHandle{}, false
	}
	return *fh, true
}

// Remove drops a handle on release and returns its final state.
func (t *Table) Remove(id uint64) (FileHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fh, ok := t.handles[id]
	if !ok {
		return FileHandle{}, false
	}
	delete(t.handles, id)
	return *fh, true
}

// UpdateBranch re-binds a handle onto a new branch. Called from
// move-on-ENOSPC after the descriptor has been duped onto the
// relocated file.
func (t *Table) UpdateBranch(id uint64, branchIdx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fh, ok := t.handles[id]; ok {
		fh.BranchIdx = branchIdx
	}
}

// RenamePath rewrites the stored path of every handle open under old,
// keeping handle state coherent across a rename.
func (t *Table) RenamePath(old, new string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldPrefix := old + "/"
	for _, fh := range t.handles {
		if fh.Path == old {
			fh.Path = new
		} else if len(fh.Path) > len(oldPrefix) && fh.Path[:len(oldPrefix)] == oldPrefix {
			fh.Path = new + "/" + fh.Path[len(oldPrefix):]
		}
	}
}

// Count reports how many handles are live.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}
