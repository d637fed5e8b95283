// Package xattrops dispatches extended-attribute operations across
// branches: search-policy reads, action-policy fan-out writes with the
// mixed-result reduction from the policy framework, the reserved
// user.mergerfs. namespace guard, and the synthetic attributes that
// reflect where a file physically lives.
package xattrops

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// ReservedPrefix is the overlay's own attribute namespace. Attributes
// under it cannot be set or removed through ordinary paths.
const ReservedPrefix = "user.mergerfs."

// Ops bundles the branch pool with the action and search policy
// snapshot an xattr dispatch runs under.
type Ops struct {
	Branches []*branch.Branch
	Action   policy.ActionPolicy
	Search   policy.SearchPolicy
}

// Get reads one attribute from the branch the search policy holds
// authoritative, answering the synthetic user.mergerfs. names from
// overlay state instead of the backing filesystem.
func (o *Ops) Get(logical, name string) ([]byte, error) {
	if strings.HasPrefix(name, ReservedPrefix) {
		return o.getSynthetic(logical, name)
	}
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return nil, err
	}
	return getOne(found[0].FullPath(logical), name)
}

func getOne(full, name string) ([]byte, error) {
	sz, err := unix.Getxattr(full, name, nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sz)
	n, err := unix.Getxattr(full, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// getSynthetic serves the four read-only attributes reflecting where a
// file physically lives.
func (o *Ops) getSynthetic(logical, name string) ([]byte, error) {
	switch name {
	case ReservedPrefix + "basepath":
		b, err := o.hostingBranch(logical)
		if err != nil {
			return nil, err
		}
		return []byte(b.Path), nil
	case ReservedPrefix + "relpath":
		return []byte(logical), nil
	case ReservedPrefix + "fullpath":
		b, err := o.hostingBranch(logical)
		if err != nil {
			return nil, err
		}
		return []byte(b.FullPath(logical)), nil
	case ReservedPrefix + "allpaths":
		var parts []string
		for _, b := range o.Branches {
			if b.PathExists(logical) {
				parts = append(parts, b.FullPath(logical))
			}
		}
		if len(parts) == 0 {
			return nil, branch.NewPolicyError(branch.PathNotFound, nil)
		}
		return []byte(strings.Join(parts, "\x00")), nil
	default:
		return nil, syscall.ENODATA
	}
}

func (o *Ops) hostingBranch(logical string) (*branch.Branch, error) {
	for _, b := range o.Branches {
		if b.PathExists(logical) {
			return b, nil
		}
	}
	return nil, branch.NewPolicyError(branch.PathNotFound, nil)
}

// Set writes one attribute on every branch the action policy selects.
// The create/replace flags are pre-checked per branch so the combined
// outcome matches single-filesystem semantics.
func (o *Ops) Set(logical, name string, value []byte, flags uint32) error {
	if strings.HasPrefix(name, ReservedPrefix) {
		return syscall.EPERM
	}
	return o.fanOut(logical, func(full string) error {
		return setOne(full, name, value, flags)
	})
}

func setOne(full, name string, value []byte, flags uint32) error {
	_, err := unix.Getxattr(full, name, nil)
	exists := err == nil
	switch {
	case flags&unix.XATTR_CREATE != 0 && exists:
		return syscall.EINVAL
	case flags&unix.XATTR_REPLACE != 0 && !exists:
		return syscall.ENODATA
	}
	return unix.Setxattr(full, name, value, int(flags))
}

// Remove deletes one attribute on every branch the action policy
// selects.
func (o *Ops) Remove(logical, name string) error {
	if strings.HasPrefix(name, ReservedPrefix) {
		return syscall.EPERM
	}
	return o.fanOut(logical, func(full string) error {
		return unix.Removexattr(full, name)
	})
}

// fanOut applies f on every selected branch and reduces per §4.9: all
// succeeded is success, all failed surfaces the first error, and a
// mixed outcome defers to the search policy's authoritative branch —
// if that branch failed its error wins, otherwise the operation
// succeeded where it matters.
func (o *Ops) fanOut(logical string, f func(fullPath string) error) error {
	selected, err := o.Action.SelectBranches(o.Branches, logical)
	if err != nil {
		return err
	}
	var rv policy.RV
	perBranch := make(map[*branch.Branch]error, len(selected))
	for _, b := range selected {
		if err := f(b.FullPath(logical)); err != nil {
			perBranch[b] = err
			rv.AddError(branch.FromErrno(err))
		} else {
			rv.AddSuccess()
		}
	}
	switch {
	case rv.AllSucceeded():
		return nil
	case rv.AllFailed():
		if first, ok := firstRaw(selected, perBranch); ok {
			return first
		}
		return rv.FirstError()
	default:
		authoritative, err := o.Search.SearchBranches(o.Branches, logical)
		if err == nil && len(authoritative) > 0 {
			if berr, failed := perBranch[authoritative[0]]; failed {
				return berr
			}
		}
		return nil
	}
}

// firstRaw returns the error from the earliest selected branch,
// preserving the branch-order determinism tests depend on.
func firstRaw(selected []*branch.Branch, perBranch map[*branch.Branch]error) (error, bool) {
	for _, b := range selected {
		if err, ok := perBranch[b]; ok {
			return err, true
		}
	}
	return nil, false
}

// List enumerates attribute names from the branches the search policy
// nominates, deduplicated while preserving first-seen order.
func (o *Ops) List(logical string) ([]string, error) {
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, b := range found {
		names, err := listOne(b.FullPath(logical))
		if err != nil {
			continue
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func listOne(full string) ([]string, error) {
	sz, err := unix.Listxattr(full, nil)
	if err != nil {
		return nil, err
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	n, err := unix.Listxattr(full, buf)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, part := range strings.Split(string(buf[:n]), "\x00") {
		if part != "" {
			names = append(names, part)
		}
	}
	return names, nil
}
