package inode

import (
	"strings"
	"sync"
)

// RootIno is the inode of the mount root.
const RootIno uint64 = 1

// ControlFileIno is the reserved inode of the virtual control file.
const ControlFileIno uint64 = ^uint64(0)

// Table maps logical paths to overlay inodes. Root is always inode 1
// and the control file holds the reserved maximum; any other path gets
// either a caller-supplied inode (Assign, e.g. one from Calc.Synthesize)
// or the next monotonic one (Allocate).
type Table struct {
	mu      sync.RWMutex
	byPath  map[string]uint64
	nlink   map[uint64]uint32
	nextIno uint64
}

func NewTable() *Table {
	return &Table{
		byPath:  map[string]uint64{"/": RootIno},
		nlink:   make(map[uint64]uint32),
		nextIno: RootIno + 1,
	}
}

// Lookup returns the inode recorded for a logical path.
func (t *Table) Lookup(logical string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ino, ok := t.byPath[logical]
	return ino, ok
}

// Assign records an inode for a logical path, typically one produced by
// Calc.Synthesize. Re-assigning the same path overwrites.
func (t *Table) Assign(logical string, ino uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPath[logical] = ino
}

// Allocate hands out the next monotonic inode and binds it to logical.
func (t *Table) Allocate(logical string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino := t.nextIno
	t.nextIno++
	t.byPath[logical] = ino
	return ino
}

// Forget drops a logical path from the table (unlink, rmdir).
func (t *Table) Forget(logical string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPath, logical)
}

// RenamePath rewrites every entry at or below old to live below new.
// The table is walked rather than keeping a reverse index, so renames
// never leave a stale id → path mapping behind.
func (t *Table) RenamePath(old, new string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldPrefix := strings.TrimRight(old, "/") + "/"
	for p, ino := range t.byPath {
		if p == old {
			delete(t.byPath, p)
			t.byPath[new] = ino
			continue
		}
		if strings.HasPrefix(p, oldPrefix) {
			delete(t.byPath, p)
			t.byPath[new+"/"+p[len(oldPrefix):]] = ino
		}
	}
}

// SetNlink caches the observed link count for an inode.
func (t *Table) SetNlink(ino uint64, nlink uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nlink[ino] = nlink
}

// Nlink returns the cached link count, or 1 if never observed.
func (t *Table) Nlink(ino uint64) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.nlink[ino]; ok {
		return n
	}
	return 1
}
