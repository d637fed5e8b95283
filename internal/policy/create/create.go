// Package create implements spec.md §4.1's create-policy family: ff,
// mfs, lfs, lus, rand, pfrd, epff, eplfs, epmfs.
package create

import (
	"math/rand/v2"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// Register adds every built-in create policy to reg.
func Register(reg *policy.Registry) {
	reg.RegisterCreate(FirstFound{})
	reg.RegisterCreate(MostFreeSpace{})
	reg.RegisterCreate(LeastFreeSpace{})
	reg.RegisterCreate(LeastUsedSpace{})
	reg.RegisterCreate(Random{})
	reg.RegisterCreate(ProportionalFillRandomDistribution{})
	reg.RegisterCreate(ExistingPathFirstFound{})
	reg.RegisterCreate(ExistingPathLeastFreeSpace{})
	reg.RegisterCreate(ExistingPathMostFreeSpace{})
}

func writable(branches []*branch.Branch) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b.AllowsCreate() {
			out = append(out, b)
		}
	}
	return out
}

func noBranches() error {
	return branch.NewPolicyError(branch.NoBranchesAvailable, nil)
}

// noCandidate picks the most informative failure when no branch could
// be selected: an empty pool is NoBranchesAvailable, a pool with no
// writable member is ReadOnlyFilesystem.
func noCandidate(branches []*branch.Branch) error {
	if len(branches) == 0 {
		return noBranches()
	}
	if len(writable(branches)) == 0 {
		return branch.NewPolicyError(branch.ReadOnlyFilesystem, nil)
	}
	return noBranches()
}

// noParent picks the failure for the existing-path family: with
// writable branches present but none holding the parent, the parent is
// what is missing.
func noParent(branches []*branch.Branch) error {
	if len(branches) == 0 {
		return noBranches()
	}
	if len(writable(branches)) == 0 {
		return branch.NewPolicyError(branch.ReadOnlyFilesystem, nil)
	}
	return branch.NewPolicyError(branch.PathNotFound, nil)
}

// FirstFound (ff) picks the first writable branch in pool order.
type FirstFound struct{}

func (FirstFound) Name() string { return "ff" }

func (FirstFound) IsPathPreserving() bool { return false }

func (FirstFound) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	for _, b := range branches {
		if b.AllowsCreate() {
			return b, nil
		}
	}
	return nil, noCandidate(branches)
}

// MostFreeSpace (mfs) picks the writable branch with the most free
// space.
type MostFreeSpace struct{}

func (MostFreeSpace) Name() string { return "mfs" }

func (MostFreeSpace) IsPathPreserving() bool { return false }

func (MostFreeSpace) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	var best *branch.Branch
	var bestSpace uint64
	for _, b := range writable(branches) {
		space, err := b.FreeSpace()
		if err != nil {
			continue
		}
		if best == nil || space > bestSpace {
			best, bestSpace = b, space
		}
	}
	if best == nil {
		return nil, noCandidate(branches)
	}
	return best, nil
}

// LeastFreeSpace (lfs) picks the writable branch with the least free
// space that still has room, so fuller branches finish filling before
// the policy moves on.
type LeastFreeSpace struct{}

func (LeastFreeSpace) Name() string { return "lfs" }

func (LeastFreeSpace) IsPathPreserving() bool { return false }

func (LeastFreeSpace) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	var best *branch.Branch
	var bestSpace uint64
	for _, b := range writable(branches) {
		space, err := b.FreeSpace()
		if err != nil || space == 0 {
			continue
		}
		if best == nil || space < bestSpace {
			best, bestSpace = b, space
		}
	}
	if best == nil {
		return nil, noCandidate(branches)
	}
	return best, nil
}

// LeastUsedSpace (lus) picks the writable branch with the least used
// space. Error priority across the candidate set is EROFS > ENOSPC >
// ENOENT, per spec.md §4.1 and
// original_source/src/policy/create/least_used_space.rs.
type LeastUsedSpace struct{}

func (LeastUsedSpace) Name() string { return "lus" }

func (LeastUsedSpace) IsPathPreserving() bool { return false }

func (LeastUsedSpace) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	var best *branch.Branch
	var bestUsed uint64
	var worstErr *branch.PolicyError
	for _, b := range branches {
		if !b.AllowsCreate() {
			continue
		}
		used, err := b.UsedSpace()
		if err != nil {
			pe := branch.FromErrno(err)
			if worstErr == nil || branch.Worse(pe, worstErr) {
				worstErr = pe
			}
			continue
		}
		if best == nil || used < bestUsed {
			best, bestUsed = b, used
		}
	}
	if best == nil {
		if worstErr != nil {
			return nil, worstErr
		}
		return nil, noCandidate(branches)
	}
	return best, nil
}

// Random (rand) picks uniformly at random among writable branches.
type Random struct{}

func (Random) Name() string { return "rand" }

func (Random) IsPathPreserving() bool { return false }

func (Random) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	cand := writable(branches)
	if len(cand) == 0 {
		return nil, noCandidate(branches)
	}
	return cand[rand.N(len(cand))], nil
}

// ProportionalFillRandomDistribution (pfrd) picks a writable branch at
// random, weighted by free space, grounded on
// original_source/src/policy/create/pfrd.rs. No weighted-sampling
// library appears anywhere in the example pack, so this uses stdlib
// math/rand/v2 directly: a single-pass cumulative-weight scan against
// one uniform draw in [0, total).
type ProportionalFillRandomDistribution struct{}

func (ProportionalFillRandomDistribution) Name() string { return "pfrd" }

func (ProportionalFillRandomDistribution) IsPathPreserving() bool { return false }

func (ProportionalFillRandomDistribution) SelectBranch(branches []*branch.Branch, _ string) (*branch.Branch, error) {
	type weighted struct {
		b     *branch.Branch
		space uint64
	}
	var cand []weighted
	var total uint64
	for _, b := range branches {
		if !b.AllowsCreate() {
			continue
		}
		space, err := b.FreeSpace()
		if err != nil || space == 0 {
			continue
		}
		cand = append(cand, weighted{b, space})
		total += space
	}
	if len(cand) == 0 {
		return nil, noCandidate(branches)
	}
	if len(cand) == 1 {
		return cand[0].b, nil
	}
	draw := rand.Uint64N(total)
	var cum uint64
	for _, w := range cand {
		cum += w.space
		if draw < cum {
			return w.b, nil
		}
	}
	return cand[len(cand)-1].b, nil
}

// ExistingPathFirstFound (epff) restricts ff to branches whose parent
// directory for logicalPath already exists.
type ExistingPathFirstFound struct{}

func (ExistingPathFirstFound) Name() string { return "epff" }

func (ExistingPathFirstFound) IsPathPreserving() bool { return true }

func (ExistingPathFirstFound) SelectBranch(branches []*branch.Branch, logicalPath string) (*branch.Branch, error) {
	for _, b := range branches {
		if b.AllowsCreate() && b.ParentExists(logicalPath) {
			return b, nil
		}
	}
	return nil, noParent(branches)
}

// ExistingPathLeastFreeSpace (eplfs) restricts lfs to branches whose
// parent directory for logicalPath already exists, per
// original_source/src/policy/create/existing_path_least_free_space.rs.
type ExistingPathLeastFreeSpace struct{}

func (ExistingPathLeastFreeSpace) Name() string { return "eplfs" }

func (ExistingPathLeastFreeSpace) IsPathPreserving() bool { return true }

func (ExistingPathLeastFreeSpace) SelectBranch(branches []*branch.Branch, logicalPath string) (*branch.Branch, error) {
	restricted := existingParentOnly(branches, logicalPath)
	if len(restricted) == 0 {
		return nil, noParent(branches)
	}
	return LeastFreeSpace{}.SelectBranch(restricted, logicalPath)
}

// ExistingPathMostFreeSpace (epmfs) restricts mfs to branches whose
// parent directory for logicalPath already exists, per
// original_source/src/policy/create/existing_path_most_free_space.rs.
type ExistingPathMostFreeSpace struct{}

func (ExistingPathMostFreeSpace) Name() string { return "epmfs" }

func (ExistingPathMostFreeSpace) IsPathPreserving() bool { return true }

func (ExistingPathMostFreeSpace) SelectBranch(branches []*branch.Branch, logicalPath string) (*branch.Branch, error) {
	restricted := existingParentOnly(branches, logicalPath)
	if len(restricted) == 0 {
		return nil, noParent(branches)
	}
	return MostFreeSpace{}.SelectBranch(restricted, logicalPath)
}

func existingParentOnly(branches []*branch.Branch, logicalPath string) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b.AllowsCreate() && b.ParentExists(logicalPath) {
			out = append(out, b)
		}
	}
	return out
}
