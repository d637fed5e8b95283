// Package statfsagg rolls the per-branch statvfs results up into the
// single view the mount reports: deduplicated by backing device,
// normalized to a common fragment size, with filtered branches still
// counted toward capacity but not availability.
package statfsagg

import (
	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"

	"golang.org/x/sys/unix"
)

// Ops aggregates under one config snapshot.
type Ops struct {
	Branches []*branch.Branch
	Mode     config.StatFSMode
	Ignore   config.StatFSIgnore
}

// filtered reports whether a branch is excluded from the availability
// totals by the statfs_ignore setting.
func (o *Ops) filtered(b *branch.Branch) bool {
	switch o.Ignore {
	case config.StatFSIgnoreRO:
		return b.Mode == branch.ReadOnly
	case config.StatFSIgnoreNC:
		return b.Mode == branch.NoCreate
	default:
		return false
	}
}

// StatFS computes the union view. logical selects the path stat'd on
// each branch under statfs=full; under base the branch roots are used.
func (o *Ops) StatFS(logical string) (unix.Statfs_t, error) {
	type entry struct {
		st       unix.Statfs_t
		filtered bool
	}
	seen := make(map[unix.Fsid]entry)
	order := make([]unix.Fsid, 0, len(o.Branches))

	for _, b := range o.Branches {
		path := b.Path
		if o.Mode == config.StatFSFull && b.PathExists(logical) {
			path = b.FullPath(logical)
		}
		var st unix.Statfs_t
		if err := unix.Statfs(path, &st); err != nil {
			continue
		}
		// Two branches on one filesystem contribute once; the first
		// branch in pool order decides the filtering.
		if _, dup := seen[st.Fsid]; dup {
			continue
		}
		seen[st.Fsid] = entry{st: st, filtered: o.filtered(b)}
		order = append(order, st.Fsid)
	}
	if len(order) == 0 {
		return unix.Statfs_t{}, unix.ENOENT
	}

	// Common geometry: minima across kept entries.
	var out unix.Statfs_t
	first := seen[order[0]].st
	out.Bsize = first.Bsize
	out.Frsize = first.Frsize
	out.Namelen = first.Namelen
	out.Type = first.Type
	for _, id := range order[1:] {
		st := seen[id].st
		if st.Bsize < out.Bsize {
			out.Bsize = st.Bsize
		}
		if st.Frsize < out.Frsize {
			out.Frsize = st.Frsize
		}
		if st.Namelen < out.Namelen {
			out.Namelen = st.Namelen
		}
	}
	if out.Frsize == 0 {
		out.Frsize = out.Bsize
	}

	for _, id := range order {
		e := seen[id]
		frsize := e.st.Frsize
		if frsize == 0 {
			frsize = e.st.Bsize
		}
		// Normalize this entry's block counts to the common frsize
		// before summing.
		scale := func(blocks uint64) uint64 {
			if frsize == out.Frsize || out.Frsize == 0 {
				return blocks
			}
			return blocks * uint64(frsize) / uint64(out.Frsize)
		}
		out.Blocks += scale(e.st.Blocks)
		out.Files += e.st.Files
		if e.filtered {
			continue
		}
		out.Bfree += scale(e.st.Bfree)
		out.Bavail += scale(e.st.Bavail)
		out.Ffree += e.st.Ffree
	}
	return out, nil
}
