// Package pathutil implements the path-cloning protocol from spec.md
// §4.3: replicating a directory chain's permissions and timestamps from
// a template branch onto a target branch, ahead of a create operation
// that needs the parent directories to already exist there.
//
// Grounded on the teacher's filesystem/vfs/common.go
// HandleNodeInstantiation, which creates parent structure on demand
// when a node is first touched through the bridge.
package pathutil

import (
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// CloneDirChain walks logicalDir component by component, creating each
// missing directory on targetRoot with the mode and times copied from
// the matching directory on templateRoot. It is idempotent: directories
// that already exist on the target (created by a concurrent clone) are
// left untouched rather than erroring.
func CloneDirChain(templateRoot, targetRoot, logicalDir string) error {
	logicalDir = strings.Trim(logicalDir, "/")
	if logicalDir == "" {
		return nil
	}
	parts := strings.Split(logicalDir, "/")
	built := ""
	for _, part := range parts {
		built += "/" + part
		if err := cloneOne(templateRoot+built, targetRoot+built); err != nil {
			return err
		}
	}
	return nil
}

func cloneOne(templatePath, targetPath string) error {
	var st unix.Stat_t
	if err := unix.Lstat(templatePath, &st); err != nil {
		// Template component missing: create with default permissions
		// and keep walking.
		merr := os.Mkdir(targetPath, 0o755)
		if merr != nil && !os.IsExist(merr) {
			return merr
		}
		return nil
	}

	err := os.Mkdir(targetPath, os.FileMode(st.Mode&0o7777))
	if err != nil && !os.IsExist(err) {
		return err
	}
	if err != nil {
		// Already exists (raced with a concurrent clone, or a branch
		// that legitimately already had this directory); leave it as
		// it is.
		return nil
	}

	if err := os.Chmod(targetPath, os.FileMode(st.Mode&0o7777)); err != nil {
		return err
	}
	if err := os.Chown(targetPath, int(st.Uid), int(st.Gid)); err != nil {
		// Matches the teacher's unguarded Chown call in
		// filesystem/vfs/common.go: a no-op for non-root callers, not
		// treated as fatal.
		_ = err
	}

	atime := unix.NsecToTimespec(st.Atim.Nano())
	mtime := unix.NsecToTimespec(st.Mtim.Nano())
	times := []unix.Timespec{atime, mtime}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, targetPath, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		if err != syscall.ENOSYS {
			return err
		}
	}
	return nil
}
