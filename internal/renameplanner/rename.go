// Package renameplanner plans and executes renames across the branch
// pool. Two strategies exist: path-preserving (never fabricates the
// destination's parent) and create-path (clones or fabricates it on
// demand). Either way the planner collects a removal list as a
// first-class artifact — stale destinations on branches the source
// never lived on, and leftover sources on branches whose rename failed
// — and sweeps it only once at least one branch has succeeded.
package renameplanner

import (
	"errors"
	"log"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"
	"github.com/smallblue2/mergerfs-go/internal/pathutil"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// Error classifies a rename failure. The numeric order doubles as the
// reduction priority when every branch fails for a different reason:
// the highest-ranked kind is the one the caller sees.
type Error int

const (
	ErrNone Error = iota
	ErrNotFound
	ErrPermissionDenied
	ErrReadOnly
	ErrNoSpace
	ErrCrossDevice
	ErrDestinationExists
	ErrInvalidPath
	ErrIO
)

// Errno maps a rename failure kind to its observable errno.
func (e Error) Errno() unix.Errno {
	switch e {
	case ErrNotFound:
		return unix.ENOENT
	case ErrPermissionDenied:
		return unix.EACCES
	case ErrReadOnly:
		return unix.EROFS
	case ErrNoSpace:
		return unix.ENOSPC
	case ErrCrossDevice:
		return unix.EXDEV
	case ErrDestinationExists:
		return unix.EEXIST
	case ErrInvalidPath:
		return unix.EINVAL
	default:
		return unix.EIO
	}
}

func (e Error) Error() string {
	switch e {
	case ErrNotFound:
		return "rename: source not found"
	case ErrPermissionDenied:
		return "rename: permission denied"
	case ErrReadOnly:
		return "rename: read-only filesystem"
	case ErrNoSpace:
		return "rename: no space left on device"
	case ErrCrossDevice:
		return "rename: cross-device rename not supported"
	case ErrDestinationExists:
		return "rename: destination already exists"
	case ErrInvalidPath:
		return "rename: invalid path"
	default:
		return "rename: i/o error"
	}
}

// classify maps a raw per-branch rename errno into the taxonomy.
func classify(err error) Error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ErrIO
	}
	switch errno {
	case unix.ENOENT:
		return ErrNotFound
	case unix.EACCES, unix.EPERM:
		return ErrPermissionDenied
	case unix.EROFS:
		return ErrReadOnly
	case unix.ENOSPC, unix.EDQUOT:
		return ErrNoSpace
	case unix.EXDEV:
		return ErrCrossDevice
	case unix.EEXIST, unix.ENOTEMPTY:
		return ErrDestinationExists
	case unix.EINVAL:
		return ErrInvalidPath
	default:
		return ErrIO
	}
}

// Planner executes renames over a branch pool under one policy
// snapshot.
type Planner struct {
	Branches []*branch.Branch
	Create   policy.CreatePolicy
	Action   policy.ActionPolicy
	Search   policy.SearchPolicy

	// EXDEVMode selects the fallback when a rename would cross
	// devices; IgnorePathPreserving forces the create-path strategy
	// even under a path-preserving create policy.
	EXDEVMode            config.RenameEXDEV
	IgnorePathPreserving bool
}

// Rename moves old to new across the pool, picking the strategy from
// the live create policy.
func (p *Planner) Rename(old, new string) error {
	if old == new {
		// Renaming a path onto itself is a no-op, provided it exists.
		for _, b := range p.Branches {
			if b.PathExists(old) {
				return nil
			}
		}
		return ErrNotFound
	}

	usePathPreserving := p.Create.IsPathPreserving() && !p.IgnorePathPreserving
	var err error
	if usePathPreserving {
		log.Printf("Rename %v -> %v using path-preserving strategy\n", old, new)
		err = p.renamePreservePath(old, new)
	} else {
		log.Printf("Rename %v -> %v using create-path strategy\n", old, new)
		err = p.renameCreatePath(old, new)
	}
	if err == ErrCrossDevice && p.EXDEVMode != config.RenameEXDEVPassthrough {
		return p.exdevSymlink(old, new)
	}
	return err
}

// sourceSet resolves the branches where the source currently exists.
func (p *Planner) sourceSet(old string) (map[*branch.Branch]bool, error) {
	selected, err := p.Action.SelectBranches(p.Branches, old)
	if err != nil || len(selected) == 0 {
		return nil, ErrNotFound
	}
	set := make(map[*branch.Branch]bool, len(selected))
	for _, b := range selected {
		set[b] = true
	}
	return set, nil
}

func (p *Planner) renamePreservePath(old, new string) error {
	sources, err := p.sourceSet(old)
	if err != nil {
		return err
	}

	success := false
	lastErr := ErrNone
	var toRemove []string

	for _, b := range p.Branches {
		if !sources[b] {
			// Stale destination collection: a copy of new may linger
			// here from an earlier overlay state.
			toRemove = append(toRemove, b.FullPath(new))
			continue
		}
		if b.Mode == branch.ReadOnly {
			continue
		}
		if err := unix.Rename(b.FullPath(old), b.FullPath(new)); err != nil {
			kind := classify(err)
			if kind > lastErr {
				lastErr = kind
			}
			toRemove = append(toRemove, b.FullPath(old))
			continue
		}
		success = true
	}

	if !success {
		if lastErr == ErrNone {
			return ErrCrossDevice
		}
		return lastErr
	}
	sweep(toRemove)
	return nil
}

func (p *Planner) renameCreatePath(old, new string) error {
	sources, err := p.sourceSet(old)
	if err != nil {
		return err
	}
	newParent := parentOf(new)
	templates, _ := p.Search.SearchBranches(p.Branches, newParent)

	success := false
	lastErr := ErrNone
	var toRemove []string

	for _, b := range p.Branches {
		if !sources[b] {
			toRemove = append(toRemove, b.FullPath(new))
			continue
		}
		if b.Mode == branch.ReadOnly {
			continue
		}
		renameErr := unix.Rename(b.FullPath(old), b.FullPath(new))
		if renameErr == unix.ENOENT {
			if p.materializeParent(b, newParent, templates) {
				renameErr = unix.Rename(b.FullPath(old), b.FullPath(new))
			}
		}
		if renameErr != nil {
			kind := classify(renameErr)
			if kind > lastErr {
				lastErr = kind
			}
			toRemove = append(toRemove, b.FullPath(old))
			continue
		}
		success = true
	}

	if !success {
		if lastErr == ErrNone {
			return ErrIO
		}
		return lastErr
	}
	sweep(toRemove)
	return nil
}

// materializeParent brings newParent into existence on b: cloned from
// the search policy's template when one exists, else from any branch
// holding the parent, else plain mkdir -p.
func (p *Planner) materializeParent(b *branch.Branch, newParent string, templates []*branch.Branch) bool {
	if newParent == "/" {
		return false
	}
	if len(templates) > 0 {
		if err := pathutil.CloneDirChain(templates[0].Path, b.Path, newParent); err == nil {
			return true
		}
	}
	for _, src := range p.Branches {
		if src == b || !src.PathExists(newParent) {
			continue
		}
		if err := pathutil.CloneDirChain(src.Path, b.Path, newParent); err == nil {
			return true
		}
	}
	return os.MkdirAll(b.FullPath(newParent), 0o755) == nil
}

// sweep best-effort removes every scheduled path. Only called once at
// least one branch renamed successfully, so a rename that fails on
// every branch removes nothing. A branch whose own rename failed has
// its copy of old scheduled, so it ends up holding neither name.
func sweep(paths []string) {
	for _, p := range paths {
		if err := unix.Unlink(p); err != nil && err != unix.ENOENT {
			// Directories scheduled for removal go through rmdir.
			_ = unix.Rmdir(p)
		}
	}
}

// exdevSymlink implements the rename_exdev fallback: instead of moving
// data across devices, new becomes a symlink to the original location.
func (p *Planner) exdevSymlink(old, new string) error {
	srcBranch, err := p.findSource(old)
	if err != nil {
		return err
	}
	var target string
	if p.EXDEVMode == config.RenameEXDEVAbsSymlink {
		target = srcBranch.FullPath(old)
	} else {
		target = relativeTo(parentOf(new), old)
	}
	linkBranch, err := p.Create.SelectBranch(p.Branches, new)
	if err != nil {
		return ErrReadOnly
	}
	if err := os.MkdirAll(linkBranch.FullPath(parentOf(new)), 0o755); err != nil {
		return classify(err)
	}
	_ = unix.Unlink(linkBranch.FullPath(new))
	if err := unix.Symlink(target, linkBranch.FullPath(new)); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Planner) findSource(old string) (*branch.Branch, error) {
	for _, b := range p.Branches {
		if b.PathExists(old) {
			return b, nil
		}
	}
	return nil, ErrNotFound
}

func parentOf(logical string) string {
	trimmed := strings.TrimRight(logical, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

// relativeTo builds the relative path from directory fromDir to target,
// both logical absolute paths.
func relativeTo(fromDir, target string) string {
	from := splitPath(fromDir)
	to := splitPath(target)
	common := 0
	for common < len(from) && common < len(to) && from[common] == to[common] {
		common++
	}
	var parts []string
	for i := common; i < len(from); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
