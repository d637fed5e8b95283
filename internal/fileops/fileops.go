// Package fileops implements the per-operation dispatch semantics for
// file data and namespace operations: create, read, write, truncate,
// unlink, directory operations, symlinks, hard links, and special
// files. Every operation consults the policy set it is handed, touches
// the branches the policies nominate, and reduces per-branch errors to
// one outcome.
package fileops

import (
	"errors"
	"os"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/pathutil"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// Ops bundles the branch pool with the policy snapshot one dispatch
// runs under. Callers build a fresh Ops per dispatch so a live policy
// swap never tears a single operation.
type Ops struct {
	Branches []*branch.Branch
	Create   policy.CreatePolicy
	Action   policy.ActionPolicy
	Search   policy.SearchPolicy
}

// ParentOf returns the logical parent directory of a logical path.
func ParentOf(logical string) string {
	trimmed := strings.TrimRight(logical, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

// SelectCreateBranch runs the create policy and, for path-preserving
// policies, clones the parent chain onto the chosen branch from the
// branch the search policy holds authoritative for the parent. For
// everything else the parent is fabricated with mkdir -p.
func (o *Ops) SelectCreateBranch(logical string) (*branch.Branch, error) {
	b, err := o.Create.SelectBranch(o.Branches, logical)
	if err != nil {
		// A path-preserving policy refusing because no branch holds
		// the parent surfaces as EXDEV, never by originating the path.
		var pe *branch.PolicyError
		if o.Create.IsPathPreserving() && errors.As(err, &pe) && pe.Kind == branch.PathNotFound {
			return nil, syscall.EXDEV
		}
		return nil, err
	}
	parent := ParentOf(logical)
	if o.Create.IsPathPreserving() {
		if tmpl := o.templateFor(parent); tmpl != nil && tmpl != b {
			if err := pathutil.CloneDirChain(tmpl.Path, b.Path, parent); err != nil {
				return nil, branch.FromErrno(err)
			}
		}
		return b, nil
	}
	if err := os.MkdirAll(b.FullPath(parent), 0o755); err != nil {
		return nil, branch.FromErrno(err)
	}
	return b, nil
}

// templateFor asks the search policy which branch holds the definitive
// copy of a directory, falling back to nil when nothing does.
func (o *Ops) templateFor(logicalDir string) *branch.Branch {
	if logicalDir == "/" {
		return nil
	}
	found, err := o.Search.SearchBranches(o.Branches, logicalDir)
	if err != nil || len(found) == 0 {
		return nil
	}
	return found[0]
}

// CreateFile originates a file with the given contents, fsyncing before
// return.
func (o *Ops) CreateFile(logical string, content []byte) error {
	b, err := o.SelectCreateBranch(logical)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(b.FullPath(logical), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return branch.FromErrno(err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return branch.FromErrno(err)
	}
	if err := f.Sync(); err != nil {
		return branch.FromErrno(err)
	}
	return nil
}

// OpenCreate opens (creating if asked) a file for the bridge, returning
// the descriptor and the branch it landed on.
func (o *Ops) OpenCreate(logical string, flags int, mode uint32) (fd int, branchIdx int, err error) {
	b, err := o.SelectCreateBranch(logical)
	if err != nil {
		return -1, -1, err
	}
	fd, err = unix.Open(b.FullPath(logical), flags, mode)
	if err != nil {
		return -1, -1, branch.FromErrno(err)
	}
	return fd, o.indexOf(b), nil
}

// OpenExisting opens an already-present file through the search policy,
// returning the descriptor and branch affinity for the handle table.
func (o *Ops) OpenExisting(logical string, flags int) (fd int, branchIdx int, err error) {
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return -1, -1, err
	}
	b := found[0]
	if flags&(unix.O_WRONLY|unix.O_RDWR) != 0 && !b.AllowsAction() {
		return -1, -1, branch.NewPolicyError(branch.ReadOnlyFilesystem, nil)
	}
	fd, err = unix.Open(b.FullPath(logical), flags, 0)
	if err != nil {
		return -1, -1, branch.FromErrno(err)
	}
	return fd, o.indexOf(b), nil
}

func (o *Ops) indexOf(b *branch.Branch) int {
	for i, cand := range o.Branches {
		if cand == b {
			return i
		}
	}
	return -1
}

// ReadFile reads the whole file from the branch the search policy holds
// authoritative.
func (o *Ops) ReadFile(logical string) ([]byte, error) {
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(found[0].FullPath(logical))
	if err != nil {
		return nil, branch.FromErrno(err)
	}
	return data, nil
}

// WriteFile writes at an offset on the first writable branch already
// hosting the file. The handle-based write path pins the branch at open
// time; this is the fallback for handleless writes.
func (o *Ops) WriteFile(logical string, offset int64, data []byte) (int, error) {
	for _, b := range o.Branches {
		if !b.AllowsAction() || !b.PathExists(logical) {
			continue
		}
		f, err := os.OpenFile(b.FullPath(logical), os.O_WRONLY, 0)
		if err != nil {
			return 0, branch.FromErrno(err)
		}
		n, err := f.WriteAt(data, offset)
		cerr := f.Close()
		if err != nil {
			return n, branch.FromErrno(err)
		}
		if cerr != nil {
			return n, branch.FromErrno(cerr)
		}
		return n, nil
	}
	return 0, branch.NewPolicyError(branch.NoBranchesAvailable, nil)
}

// TruncateFile resizes the file on the first writable branch hosting
// it, same selection rule as WriteFile.
func (o *Ops) TruncateFile(logical string, size int64) error {
	for _, b := range o.Branches {
		if !b.AllowsAction() || !b.PathExists(logical) {
			continue
		}
		if err := os.Truncate(b.FullPath(logical), size); err != nil {
			return branch.FromErrno(err)
		}
		return nil
	}
	return branch.NewPolicyError(branch.NoBranchesAvailable, nil)
}

// Unlink removes the path on every writable branch that holds it. If no
// branch held it the caller sees NoBranchesAvailable; a mix of success
// and failure surfaces the last underlying error.
func (o *Ops) Unlink(logical string) error {
	attempted := false
	var lastErr error
	for _, b := range o.Branches {
		if !b.AllowsAction() || !b.PathExists(logical) {
			continue
		}
		attempted = true
		if err := unix.Unlink(b.FullPath(logical)); err != nil {
			lastErr = branch.FromErrno(err)
		}
	}
	if !attempted {
		return branch.NewPolicyError(branch.NoBranchesAvailable, nil)
	}
	return lastErr
}

// Rmdir removes the directory on every writable branch that holds it,
// refusing non-empty directories.
func (o *Ops) Rmdir(logical string) error {
	attempted := false
	var lastErr error
	for _, b := range o.Branches {
		if !b.AllowsAction() || !b.PathExists(logical) {
			continue
		}
		attempted = true
		if err := unix.Rmdir(b.FullPath(logical)); err != nil {
			lastErr = branch.FromErrno(err)
			if err == unix.ENOTEMPTY {
				return syscall.ENOTEMPTY
			}
		}
	}
	if !attempted {
		return branch.NewPolicyError(branch.NoBranchesAvailable, nil)
	}
	return lastErr
}

// Mkdir originates a directory through the create policy.
func (o *Ops) Mkdir(logical string, mode uint32) error {
	b, err := o.SelectCreateBranch(logical)
	if err != nil {
		return err
	}
	if err := os.Mkdir(b.FullPath(logical), os.FileMode(mode)); err != nil {
		return branch.FromErrno(err)
	}
	return nil
}

// Symlink originates a symlink; the target string is preserved
// verbatim, relative targets included.
func (o *Ops) Symlink(target, link string) error {
	b, err := o.SelectCreateBranch(link)
	if err != nil {
		return err
	}
	if err := unix.Symlink(target, b.FullPath(link)); err != nil {
		return branch.FromErrno(err)
	}
	return nil
}

// Readlink resolves a symlink through the search policy.
func (o *Ops) Readlink(logical string) (string, error) {
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(found[0].FullPath(logical))
	if err != nil {
		return "", branch.FromErrno(err)
	}
	return target, nil
}

// Link creates a hard link. POSIX links cannot cross filesystems, so
// the link lands on the branch already hosting the source. A source on
// a branch that forbids creation is a permission failure; a
// path-preserving create policy with the link's parent absent on that
// branch is EXDEV, never a fabricated path.
func (o *Ops) Link(src, link string) error {
	var srcBranch *branch.Branch
	for _, b := range o.Branches {
		if b.PathExists(src) {
			srcBranch = b
			break
		}
	}
	if srcBranch == nil {
		return branch.NewPolicyError(branch.PathNotFound, nil)
	}
	if !srcBranch.AllowsCreate() {
		return syscall.EACCES
	}
	parent := ParentOf(link)
	if !srcBranch.PathExists(parent) {
		if o.Create.IsPathPreserving() {
			return syscall.EXDEV
		}
		if tmpl := o.templateFor(parent); tmpl != nil {
			if err := pathutil.CloneDirChain(tmpl.Path, srcBranch.Path, parent); err != nil {
				return branch.FromErrno(err)
			}
		} else if err := os.MkdirAll(srcBranch.FullPath(parent), 0o755); err != nil {
			return branch.FromErrno(err)
		}
	}
	if err := unix.Link(srcBranch.FullPath(src), srcBranch.FullPath(link)); err != nil {
		return branch.FromErrno(err)
	}
	return nil
}

// Mknod originates a special file, dispatching on the type bits: FIFOs
// via mkfifo, regular files via ordinary create, device and socket
// nodes via mknod. Unknown type bits are EINVAL.
func (o *Ops) Mknod(logical string, mode uint32, rdev uint64) error {
	b, err := o.SelectCreateBranch(logical)
	if err != nil {
		return err
	}
	full := b.FullPath(logical)
	perm := mode & 0o7777
	switch mode & unix.S_IFMT {
	case unix.S_IFIFO:
		if err := unix.Mkfifo(full, perm); err != nil {
			return branch.FromErrno(err)
		}
	case unix.S_IFREG, 0:
		fd, err := unix.Open(full, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, perm)
		if err != nil {
			return branch.FromErrno(err)
		}
		unix.Close(fd)
		if err := unix.Chmod(full, perm); err != nil {
			return branch.FromErrno(err)
		}
	case unix.S_IFCHR, unix.S_IFBLK, unix.S_IFSOCK:
		if err := unix.Mknod(full, mode, int(rdev)); err != nil {
			return branch.FromErrno(err)
		}
	default:
		return syscall.EINVAL
	}
	return nil
}

// DirEntry is one name in a merged directory listing.
type DirEntry struct {
	Name string
	// Mode carries the type bits from the first branch in pool order
	// where the entry exists.
	Mode uint32
	Ino  uint64
}

// ListDirectory returns the deduplicated union of entry names across
// every branch where logical is a directory, sorted by name. Type
// information comes from the first branch an entry is seen on.
func (o *Ops) ListDirectory(logical string) ([]DirEntry, error) {
	seen := make(map[string]DirEntry)
	found := false
	for _, b := range o.Branches {
		full := b.FullPath(logical)
		entries, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		found = true
		for _, e := range entries {
			if _, dup := seen[e.Name()]; dup {
				continue
			}
			var st unix.Stat_t
			de := DirEntry{Name: e.Name()}
			if err := unix.Lstat(full+"/"+e.Name(), &st); err == nil {
				de.Mode = st.Mode
				de.Ino = st.Ino
			}
			seen[e.Name()] = de
		}
	}
	if !found {
		return nil, branch.NewPolicyError(branch.PathNotFound, nil)
	}
	out := make([]DirEntry, 0, len(seen))
	for _, de := range seen {
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FileExists reports whether any branch hosts the path.
func (o *Ops) FileExists(logical string) bool {
	for _, b := range o.Branches {
		if b.PathExists(logical) {
			return true
		}
	}
	return false
}

// FindBranch returns the first branch (in pool order) hosting the path.
func (o *Ops) FindBranch(logical string) (*branch.Branch, error) {
	for _, b := range o.Branches {
		if b.PathExists(logical) {
			return b, nil
		}
	}
	return nil, branch.NewPolicyError(branch.PathNotFound, nil)
}

// Stat returns the attributes of the authoritative copy, with the
// branch they came from so the caller can synthesize the inode.
func (o *Ops) Stat(logical string) (*branch.Branch, unix.Stat_t, error) {
	var st unix.Stat_t
	found, err := o.Search.SearchBranches(o.Branches, logical)
	if err != nil {
		return nil, st, err
	}
	b := found[0]
	if err := unix.Lstat(b.FullPath(logical), &st); err != nil {
		return nil, st, branch.FromErrno(err)
	}
	return b, st, nil
}
