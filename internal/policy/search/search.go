// Package search implements spec.md §4.1's search-policy family: ff,
// all, newest — the policies that decide which branches a read-only
// lookup (getattr, open, readlink, listxattr, ...) consults.
package search

import (
	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// FirstFound returns the first branch (in pool order) the path exists
// on.
type FirstFound struct{}

func (FirstFound) Name() string { return "ff" }

func (FirstFound) SearchBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	for _, b := range branches {
		if b.PathExists(logicalPath) {
			return []*branch.Branch{b}, nil
		}
	}
	return nil, branch.NewPolicyError(branch.PathNotFound, nil)
}

// All returns every branch the path exists on, in pool order.
type All struct{}

func (All) Name() string { return "all" }

func (All) SearchBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	var out []*branch.Branch
	for _, b := range branches {
		if b.PathExists(logicalPath) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	return out, nil
}

// Newest returns the single branch holding the most recently modified
// copy of the path, per spec.md §4.1 ("newest" search policy).
type Newest struct{}

func (Newest) Name() string { return "newest" }

func (Newest) SearchBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	var best *branch.Branch
	var bestMtime int64
	for _, b := range branches {
		var st unix.Stat_t
		if err := unix.Lstat(b.FullPath(logicalPath), &st); err != nil {
			continue
		}
		mtime := st.Mtim.Sec
		if best == nil || mtime > bestMtime {
			best, bestMtime = b, mtime
		}
	}
	if best == nil {
		return nil, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	return []*branch.Branch{best}, nil
}

// Register adds every built-in search policy to reg.
func Register(reg *policy.Registry) {
	reg.RegisterSearch(FirstFound{})
	reg.RegisterSearch(All{})
	reg.RegisterSearch(Newest{})
}
