// Package core is the coordination engine between the FUSE bridge and
// the branch pool: it owns the branch list, the policy registry, the
// runtime configuration, the inode table, and the open-file table, and
// hands each dispatch a consistent snapshot of all of them.
package core

import (
	"errors"
	"log"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"
	"github.com/smallblue2/mergerfs-go/internal/fileops"
	"github.com/smallblue2/mergerfs-go/internal/handle"
	"github.com/smallblue2/mergerfs-go/internal/inode"
	"github.com/smallblue2/mergerfs-go/internal/metaops"
	"github.com/smallblue2/mergerfs-go/internal/moveonenospc"
	"github.com/smallblue2/mergerfs-go/internal/policy"
	"github.com/smallblue2/mergerfs-go/internal/policy/action"
	"github.com/smallblue2/mergerfs-go/internal/policy/create"
	"github.com/smallblue2/mergerfs-go/internal/policy/search"
	"github.com/smallblue2/mergerfs-go/internal/renameplanner"
	"github.com/smallblue2/mergerfs-go/internal/statfsagg"
	"github.com/smallblue2/mergerfs-go/internal/xattrops"
)

// Core is the process-wide coordinator. Initialized once at mount,
// torn down at unmount.
type Core struct {
	Branches []*branch.Branch
	Registry *policy.Registry
	Config   *config.Manager
	Inodes   *inode.Table
	Handles  *handle.Table
}

// New builds a Core over the given pool with every built-in policy
// registered and the default (or caller-adjusted) configuration.
func New(branches []*branch.Branch, cfg config.Config) *Core {
	reg := policy.NewRegistry()
	create.Register(reg)
	action.Register(reg)
	search.Register(reg)
	return &Core{
		Branches: branches,
		Registry: reg,
		Config:   config.NewManager(cfg, reg),
		Inodes:   inode.NewTable(),
		Handles:  handle.NewTable(),
	}
}

// Policy resolution: option values are validated when set, so a lookup
// miss can only mean the defaults were never registered — fall back to
// them rather than tearing the dispatch.

func (c *Core) createPolicy(snap config.Config) policy.CreatePolicy {
	if p, ok := c.Registry.Create(snap.FuncCreate); ok {
		return p
	}
	return create.FirstFound{}
}

func (c *Core) actionPolicy(snap config.Config) policy.ActionPolicy {
	if p, ok := c.Registry.Action(snap.FuncAction); ok {
		return p
	}
	return action.All{}
}

func (c *Core) searchPolicy(snap config.Config) policy.SearchPolicy {
	if p, ok := c.Registry.Search(snap.FuncSearch); ok {
		return p
	}
	return search.FirstFound{}
}

// FileOps snapshots the policy set for one file-operation dispatch.
func (c *Core) FileOps() *fileops.Ops {
	snap := c.Config.Snapshot()
	return &fileops.Ops{
		Branches: c.Branches,
		Create:   c.createPolicy(snap),
		Action:   c.actionPolicy(snap),
		Search:   c.searchPolicy(snap),
	}
}

// MetaOps snapshots the policy set for one metadata dispatch.
func (c *Core) MetaOps() *metaops.Ops {
	snap := c.Config.Snapshot()
	return &metaops.Ops{
		Branches: c.Branches,
		Action:   c.actionPolicy(snap),
	}
}

// XattrOps snapshots the policy set for one xattr dispatch.
func (c *Core) XattrOps() *xattrops.Ops {
	snap := c.Config.Snapshot()
	return &xattrops.Ops{
		Branches: c.Branches,
		Action:   c.actionPolicy(snap),
		Search:   c.searchPolicy(snap),
	}
}

// Renamer snapshots policies and rename options for one rename.
func (c *Core) Renamer() *renameplanner.Planner {
	snap := c.Config.Snapshot()
	return &renameplanner.Planner{
		Branches:             c.Branches,
		Create:               c.createPolicy(snap),
		Action:               c.actionPolicy(snap),
		Search:               c.searchPolicy(snap),
		EXDEVMode:            snap.RenameEXDEV,
		IgnorePathPreserving: snap.IgnorePathPreservingOnRename,
	}
}

// StatFS snapshots the aggregation options for one statfs.
func (c *Core) StatFS() *statfsagg.Ops {
	snap := c.Config.Snapshot()
	return &statfsagg.Ops{
		Branches: c.Branches,
		Mode:     snap.StatFSMode,
		Ignore:   snap.StatFSIgnore,
	}
}

// SynthesizeIno runs the configured inode algorithm and records the
// result so repeated lookups observe a stable inode.
func (c *Core) SynthesizeIno(b *branch.Branch, logical string, mode uint32, underlyingIno uint64) uint64 {
	snap := c.Config.Snapshot()
	ino := snap.InodeCalc.Synthesize(b.Path, logical, mode, underlyingIno)
	c.Inodes.Assign(logical, ino)
	return ino
}

// Rename runs the planner and, on success, rewrites the inode table
// and open-handle paths so identity survives the move.
func (c *Core) Rename(old, new string) error {
	if err := c.Renamer().Rename(old, new); err != nil {
		return err
	}
	c.Inodes.RenamePath(old, new)
	c.Handles.RenamePath(old, new)
	return nil
}

// RecoverENOSPC relocates the file behind a handle after a write ran
// out of space, rebinding the descriptor and the handle's branch
// affinity. The caller retries its write afterwards. A nil return
// means the retry is worth attempting.
func (c *Core) RecoverENOSPC(fhID uint64) error {
	snap := c.Config.Snapshot()
	if !snap.MoveOnENOSPC.Enabled {
		return syscall.ENOSPC
	}
	fh, ok := c.Handles.Get(fhID)
	if !ok || fh.BranchIdx == handle.NoBranch {
		return syscall.ENOSPC
	}
	relocPolicy, ok := c.Registry.Create(snap.MoveOnENOSPC.PolicyName)
	if !ok {
		relocPolicy = create.ProportionalFillRandomDistribution{}
	}
	mover := &moveonenospc.Mover{Branches: c.Branches, Policy: relocPolicy}
	res, err := mover.Move(fh.Path, fh.BranchIdx, fh.Fd)
	if err != nil {
		log.Printf("Move on ENOSPC for %v failed: %v\n", fh.Path, err)
		return syscall.ENOSPC
	}
	c.Handles.UpdateBranch(fhID, res.NewBranchIdx)
	return nil
}

// ToErrno reduces any error the operation layers produce to the errno
// the kernel boundary reports.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var pe *branch.PolicyError
	if errors.As(err, &pe) {
		return syscall.Errno(pe.Errno())
	}
	var re renameplanner.Error
	if errors.As(err, &re) {
		return syscall.Errno(re.Errno())
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return syscall.Errno(errno)
	}
	return syscall.EIO
}
