// Package branch holds the branch record and the closed error taxonomy
// that every policy and operation in this tree reduces down to.
package branch

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Mode describes what a branch may be used for.
type Mode int

const (
	// ReadWrite branches accept both reads and new file creation.
	ReadWrite Mode = iota
	// ReadOnly branches never accept writes or creates.
	ReadOnly
	// NoCreate branches accept writes to existing files but are never
	// chosen as the target of a create policy.
	NoCreate
)

func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "RW"
	case ReadOnly:
		return "RO"
	case NoCreate:
		return "NC"
	default:
		return "unknown"
	}
}

// ParseMode parses the suffix syntax accepted on the command line,
// e.g. "/mnt/a=RW" or "/mnt/b=NC".
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "RW":
		return ReadWrite, nil
	case "RO":
		return ReadOnly, nil
	case "NC":
		return NoCreate, nil
	default:
		return 0, fmt.Errorf("branch: unknown mode %q", s)
	}
}

// Branch is one backing directory in the pool.
type Branch struct {
	Path string
	Mode Mode
}

// New builds a Branch, cleaning trailing slashes from path.
func New(path string, mode Mode) *Branch {
	return &Branch{Path: strings.TrimRight(path, "/"), Mode: mode}
}

// AllowsCreate reports whether this branch may be the target of a
// create policy (new file, new directory, new symlink, ...).
func (b *Branch) AllowsCreate() bool {
	return b.Mode == ReadWrite
}

// AllowsAction reports whether this branch may be the target of an
// action that mutates or removes an existing file (write, unlink,
// chmod, ...). NoCreate branches still allow actions on files that
// already live there.
func (b *Branch) AllowsAction() bool {
	return b.Mode == ReadWrite || b.Mode == NoCreate
}

// FullPath joins the branch root to a logical (FUSE-side) path. The
// logical path is always absolute; leading slashes beyond the first are
// collapsed away to avoid accidental double roots.
func (b *Branch) FullPath(logical string) string {
	return b.Path + "/" + strings.TrimLeft(logical, "/")
}

// FreeSpace returns the available space a create policy should weigh
// this branch by (statfs f_bavail * f_bsize).
func (b *Branch) FreeSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.Path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// UsedSpace returns occupied space (f_blocks-f_bfree)*f_bsize, used by
// the "least used space" policy.
func (b *Branch) UsedSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.Path, &st); err != nil {
		return 0, err
	}
	return (st.Blocks - st.Bfree) * uint64(st.Bsize), nil
}

// TotalSpace returns total capacity, f_blocks*f_bsize.
func (b *Branch) TotalSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.Path, &st); err != nil {
		return 0, err
	}
	return st.Blocks * uint64(st.Bsize), nil
}

// PathExists reports whether logical resolves to something on this
// branch already. Used by the path-preserving family of policies.
func (b *Branch) PathExists(logical string) bool {
	_, err := unixLstat(b.FullPath(logical))
	return err == nil
}

// ParentExists reports whether the parent directory of logical already
// exists on this branch. Used by ep* (existing-path) policies.
func (b *Branch) ParentExists(logical string) bool {
	parent := parentOf(logical)
	if parent == "" || parent == "/" {
		return true
	}
	_, err := unixLstat(b.FullPath(parent))
	return err == nil
}

func parentOf(logical string) string {
	trimmed := strings.TrimRight(logical, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

func unixLstat(path string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Lstat(path, &st)
	return st, err
}
