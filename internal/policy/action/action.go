// Package action implements spec.md §4.1's action-policy family: all,
// epall, epff — the policies that decide which branches an existing-file
// mutation (chmod, unlink, truncate, setxattr, ...) is fanned out to.
package action

import (
	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

func existsOn(branches []*branch.Branch, logicalPath string) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b.AllowsAction() && b.PathExists(logicalPath) {
			out = append(out, b)
		}
	}
	return out
}

// All applies the action to every branch the path exists on.
type All struct{}

func (All) Name() string { return "all" }

func (All) SelectBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	out := existsOn(branches, logicalPath)
	if len(out) == 0 {
		return nil, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	return out, nil
}

// ExistingPathAll applies the action to every branch whose parent
// directory for the path exists, not just branches holding the file
// itself (relevant for directory-wide actions).
type ExistingPathAll struct{}

func (ExistingPathAll) Name() string { return "epall" }

func (ExistingPathAll) SelectBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b.AllowsAction() && b.ParentExists(logicalPath) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	return out, nil
}

// ExistingPathFirstFound applies the action to the first branch (in
// pool order) the path exists on.
type ExistingPathFirstFound struct{}

func (ExistingPathFirstFound) Name() string { return "epff" }

func (ExistingPathFirstFound) SelectBranches(branches []*branch.Branch, logicalPath string) ([]*branch.Branch, error) {
	for _, b := range branches {
		if b.AllowsAction() && b.PathExists(logicalPath) {
			return []*branch.Branch{b}, nil
		}
	}
	return nil, branch.NewPolicyError(branch.PathNotFound, nil)
}

// Register adds every built-in action policy to reg.
func Register(reg *policy.Registry) {
	reg.RegisterAction(All{})
	reg.RegisterAction(ExistingPathAll{})
	reg.RegisterAction(ExistingPathFirstFound{})
}
