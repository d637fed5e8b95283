// Package moveonenospc relocates an in-flight file from a full branch
// to another when a write runs out of space, rebinding the caller's
// open descriptor onto the relocated copy so the retry is invisible.
package moveonenospc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/pathutil"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// copyBufSize is the transfer buffer for relocations.
const copyBufSize = 64 * 1024

// IsOutOfSpace reports whether an error is the relocation trigger:
// ENOSPC or EDQUOT.
func IsOutOfSpace(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.ENOSPC || errno == unix.EDQUOT
}

// Mover relocates files across the branch pool under one relocation
// policy snapshot.
type Mover struct {
	Branches []*branch.Branch
	// Policy picks the relocation target among the remaining branches.
	Policy policy.CreatePolicy
}

// Result describes a completed relocation.
type Result struct {
	NewBranchIdx int
	NewPath      string
}

// Move relocates logical off the branch at currentIdx. When fd is
// non-negative it is a live descriptor for the original file and gets
// rebound (dup2) onto the relocated copy. Any step failing aborts the
// move and the caller's original error stands.
func (m *Mover) Move(logical string, currentIdx int, fd int) (Result, error) {
	if currentIdx < 0 || currentIdx >= len(m.Branches) {
		return Result{}, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	src := m.Branches[currentIdx]
	srcPath := src.FullPath(logical)
	if !src.PathExists(logical) {
		return Result{}, branch.NewPolicyError(branch.PathNotFound, nil)
	}

	// The full branch is out of the candidate set.
	remaining := make([]*branch.Branch, 0, len(m.Branches)-1)
	for i, b := range m.Branches {
		if i != currentIdx {
			remaining = append(remaining, b)
		}
	}
	if len(remaining) == 0 {
		return Result{}, branch.NewPolicyError(branch.NoSpace, nil)
	}
	target, err := m.Policy.SelectBranch(remaining, logical)
	if err != nil {
		return Result{}, err
	}
	targetIdx := -1
	for i, b := range m.Branches {
		if b == target {
			targetIdx = i
		}
	}

	log.Printf("Moving %v from branch %v to branch %v on ENOSPC\n", logical, currentIdx, targetIdx)

	parent := parentOf(logical)
	if parent != "/" {
		if err := pathutil.CloneDirChain(src.Path, target.Path, parent); err != nil {
			return Result{}, err
		}
	}

	dstPath := target.FullPath(logical)
	tmpPath := fmt.Sprintf("%s/.mergerfs.move.%d", target.FullPath(parent), os.Getpid())
	if err := copyFile(srcPath, tmpPath); err != nil {
		_ = unix.Unlink(tmpPath)
		return Result{}, err
	}
	if err := copyMetadata(srcPath, tmpPath); err != nil {
		_ = unix.Unlink(tmpPath)
		return Result{}, err
	}
	if err := unix.Rename(tmpPath, dstPath); err != nil {
		_ = unix.Unlink(tmpPath)
		return Result{}, err
	}

	if fd >= 0 {
		if err := rebindFd(fd, dstPath); err != nil {
			return Result{}, err
		}
	}

	if err := unix.Unlink(srcPath); err != nil {
		return Result{}, err
	}
	return Result{NewBranchIdx: targetIdx, NewPath: dstPath}, nil
}

// copyFile streams contents through a fixed-size buffer and fsyncs the
// destination before returning.
func copyFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyMetadata carries permission bits, times, and (best-effort)
// xattrs from the original onto the relocated copy.
func copyMetadata(srcPath, dstPath string) error {
	var st unix.Stat_t
	if err := unix.Stat(srcPath, &st); err != nil {
		return err
	}
	if err := unix.Chmod(dstPath, st.Mode&0o7777); err != nil {
		return err
	}
	_ = unix.Chown(dstPath, int(st.Uid), int(st.Gid))
	times := []unix.Timespec{
		unix.NsecToTimespec(st.Atim.Nano()),
		unix.NsecToTimespec(st.Mtim.Nano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, dstPath, times, 0); err != nil {
		return err
	}
	copyXattrs(srcPath, dstPath)
	return nil
}

// copyXattrs is best-effort: a backing filesystem without xattr support
// must not abort a relocation.
func copyXattrs(srcPath, dstPath string) {
	sz, err := unix.Listxattr(srcPath, nil)
	if err != nil || sz == 0 {
		return
	}
	buf := make([]byte, sz)
	n, err := unix.Listxattr(srcPath, buf)
	if err != nil {
		return
	}
	for _, name := range strings.Split(string(buf[:n]), "\x00") {
		if name == "" {
			continue
		}
		vsz, err := unix.Getxattr(srcPath, name, nil)
		if err != nil {
			continue
		}
		val := make([]byte, vsz)
		vn, err := unix.Getxattr(srcPath, name, val)
		if err != nil {
			continue
		}
		_ = unix.Setxattr(dstPath, name, val[:vn], 0)
	}
}

// rebindFd opens the relocated file with the original descriptor's
// access and append flags (O_CREAT, O_EXCL, and O_TRUNC stripped — the
// file already exists and holds the copied contents) and dup2s it onto
// the caller's descriptor number.
func rebindFd(fd int, newPath string) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	clean := flags &^ (unix.O_CREAT | unix.O_EXCL | unix.O_TRUNC)
	newFd, err := unix.Open(newPath, clean, 0)
	if err != nil {
		return err
	}
	if err := unix.Dup2(newFd, fd); err != nil {
		unix.Close(newFd)
		return err
	}
	return unix.Close(newFd)
}

func parentOf(logical string) string {
	trimmed := strings.TrimRight(logical, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}
