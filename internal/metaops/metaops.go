// Package metaops dispatches metadata mutations (chmod, chown,
// utimens) across the branches the action policy nominates, reducing
// per-branch results through the shared PolicyRV accumulator.
package metaops

import (
	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy"

	"golang.org/x/sys/unix"
)

// Ops bundles the branch pool with the action policy snapshot a
// metadata dispatch runs under.
type Ops struct {
	Branches []*branch.Branch
	Action   policy.ActionPolicy
}

// apply fans one per-branch mutation out over the action policy's
// selection and reduces the results: all-succeed is success, all-fail
// surfaces the first branch's error, and a mixed outcome counts as
// success since at least one authoritative copy was updated.
func (o *Ops) apply(logical string, f func(fullPath string) error) error {
	selected, err := o.Action.SelectBranches(o.Branches, logical)
	if err != nil {
		return err
	}
	var rv policy.RV
	for _, b := range selected {
		if err := f(b.FullPath(logical)); err != nil {
			rv.AddError(branch.FromErrno(err))
		} else {
			rv.AddSuccess()
		}
	}
	if rv.AllFailed() {
		return rv.FirstError()
	}
	return nil
}

// Chmod applies new permission bits on every selected branch.
func (o *Ops) Chmod(logical string, mode uint32) error {
	return o.apply(logical, func(full string) error {
		return unix.Chmod(full, mode&0o7777)
	})
}

// Chown applies new ownership on every selected branch. Like the
// underlying syscall this only succeeds for privileged callers; the
// per-branch errno is surfaced unchanged.
func (o *Ops) Chown(logical string, uid, gid int) error {
	return o.apply(logical, func(full string) error {
		return unix.Lchown(full, uid, gid)
	})
}

// Utimens applies new access/modification times on every selected
// branch, without following symlinks.
func (o *Ops) Utimens(logical string, atime, mtime unix.Timespec) error {
	times := []unix.Timespec{atime, mtime}
	return o.apply(logical, func(full string) error {
		return unix.UtimesNanoAt(unix.AT_FDCWD, full, times, unix.AT_SYMLINK_NOFOLLOW)
	})
}

// Access checks permission bits against the first branch hosting the
// path.
func (o *Ops) Access(logical string, mask uint32) error {
	for _, b := range o.Branches {
		if b.PathExists(logical) {
			return unix.Access(b.FullPath(logical), mask)
		}
	}
	return branch.NewPolicyError(branch.PathNotFound, nil)
}
