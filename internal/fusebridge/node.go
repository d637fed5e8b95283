// Package fusebridge translates kernel VFS requests into dispatches on
// the core: each node resolves its logical path, hands the operation to
// the policy-driven operation layers, and synthesizes the observable
// attributes (inode included) from whatever branch the policies chose.
package fusebridge

import (
	"context"
	"log"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/config"
	"github.com/smallblue2/mergerfs-go/internal/core"
)

// Node is one entry in the overlay tree.
type Node struct {
	fs.Inode

	core *core.Core

	// isControl marks the virtual /.mergerfs node.
	isControl bool
}

// Interfaces/contracts to abide by

// Filesystem and Node Operations
var _ = (fs.NodeStatfser)((*Node)(nil))
var _ = (fs.InodeEmbedder)((*Node)(nil))

// Directory Operations
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeOpendirer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeAccesser)((*Node)(nil))

// Regular File Operations
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))

// Attribute Operations
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeGetxattrer)((*Node)(nil))
var _ = (fs.NodeSetxattrer)((*Node)(nil))
var _ = (fs.NodeRemovexattrer)((*Node)(nil))
var _ = (fs.NodeListxattrer)((*Node)(nil))

// Linking Operations
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeMknoder)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeSymlinker)((*Node)(nil))
var _ = (fs.NodeReadlinker)((*Node)(nil))

// NewRoot builds the root node over an initialized core.
func NewRoot(c *core.Core) *Node {
	return &Node{core: c}
}

// logicalPath is the absolute FUSE-side path of this node.
func (n *Node) logicalPath() string {
	return "/" + n.Path(n.Root())
}

// childPath joins a directory node's logical path with an entry name.
func (n *Node) childPath(name string) string {
	p := n.logicalPath()
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}

func (n *Node) newChild(ctx context.Context, st *unix.Stat_t, ino uint64) *fs.Inode {
	child := &Node{core: n.core}
	stable := fs.StableAttr{
		Mode: st.Mode & unix.S_IFMT,
		Ino:  ino,
		Gen:  1,
	}
	return n.NewInode(ctx, child, stable)
}

func attrFromStat(out *fuse.Attr, st *unix.Stat_t, ino uint64) {
	out.Ino = ino
	out.Size = uint64(st.Size)
	out.Blocks = uint64(st.Blocks)
	out.Blksize = uint32(st.Blksize)
	out.Mode = st.Mode
	out.Nlink = uint32(st.Nlink)
	out.Owner = fuse.Owner{Uid: st.Uid, Gid: st.Gid}
	out.Rdev = uint32(st.Rdev)
	out.Atime = uint64(st.Atim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtime = uint64(st.Mtim.Sec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctime = uint64(st.Ctim.Sec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
}

// controlAttr fills the fixed attributes of the control file: empty,
// world-readable, owned by root, reserved inode.
func controlAttr(out *fuse.Attr) {
	out.Ino = config.ControlFileIno
	out.Size = 0
	out.Mode = unix.S_IFREG | config.ControlFilePerm
	out.Nlink = 1
	out.Owner = fuse.Owner{Uid: 0, Gid: 0}
	out.Blksize = 512
}

// Statfs reports the deduplicated, normalized union of the branches.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	log.Println("Statting union filesystem...")
	st, err := n.core.StatFS().StatFS(n.logicalPath())
	if err != nil {
		return core.ToErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.NameLen = uint32(st.Namelen)
	return fs.OK
}

// Lookup resolves a name in this directory against the branch pool.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logical := n.childPath(name)
	log.Printf("LOOKUP performed for {%v}\n", logical)

	if config.IsControlFile(logical) {
		child := &Node{core: n.core, isControl: true}
		controlAttr(&out.Attr)
		stable := fs.StableAttr{Mode: unix.S_IFREG, Ino: config.ControlFileIno, Gen: 1}
		return n.NewInode(ctx, child, stable), fs.OK
	}

	b, st, err := n.core.FileOps().Stat(logical)
	if err != nil {
		return nil, core.ToErrno(err)
	}
	ino := n.core.SynthesizeIno(b, logical, st.Mode, st.Ino)
	attrFromStat(&out.Attr, &st, ino)
	return n.newChild(ctx, &st, ino), fs.OK
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.isControl {
		controlAttr(&out.Attr)
		return fs.OK
	}
	logical := n.logicalPath()
	b, st, err := n.core.FileOps().Stat(logical)
	if err != nil {
		return core.ToErrno(err)
	}
	ino := n.core.SynthesizeIno(b, logical, st.Mode, st.Ino)
	attrFromStat(&out.Attr, &st, ino)
	return fs.OK
}

// Setattr dispatches each requested attribute change through the
// action policy.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.isControl {
		return syscall.EACCES
	}
	logical := n.logicalPath()
	log.Printf("SETATTR performed for {%v}\n", logical)
	meta := n.core.MetaOps()

	if mode, ok := in.GetMode(); ok {
		if err := meta.Chmod(logical, mode); err != nil {
			return core.ToErrno(err)
		}
	}
	uid, hasUID := in.GetUID()
	gid, hasGID := in.GetGID()
	if hasUID || hasGID {
		u, g := -1, -1
		if hasUID {
			u = int(uid)
		}
		if hasGID {
			g = int(gid)
		}
		if err := meta.Chown(logical, u, g); err != nil {
			return core.ToErrno(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := n.core.FileOps().TruncateFile(logical, int64(size)); err != nil {
			return core.ToErrno(err)
		}
	}
	atime, hasAtime := in.GetATime()
	mtime, hasMtime := in.GetMTime()
	if hasAtime || hasMtime {
		ts := make([]unix.Timespec, 2)
		ts[0] = unix.Timespec{Nsec: unix.UTIME_OMIT}
		ts[1] = unix.Timespec{Nsec: unix.UTIME_OMIT}
		if hasAtime {
			ts[0] = unix.NsecToTimespec(atime.UnixNano())
		}
		if hasMtime {
			ts[1] = unix.NsecToTimespec(mtime.UnixNano())
		}
		if err := meta.Utimens(logical, ts[0], ts[1]); err != nil {
			return core.ToErrno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.isControl {
		if mask&unix.W_OK != 0 || mask&unix.X_OK != 0 {
			return syscall.EACCES
		}
		return fs.OK
	}
	if err := n.core.MetaOps().Access(n.logicalPath(), mask); err != nil {
		return core.ToErrno(err)
	}
	return fs.OK
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	if _, _, err := n.core.FileOps().Stat(n.logicalPath()); err != nil {
		return core.ToErrno(err)
	}
	return fs.OK
}

// Readdir merges entries across every branch holding this directory.
// The control file shows up in the root listing.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	logical := n.logicalPath()
	log.Printf("READDIR performed for {%v}\n", logical)
	entries, err := n.core.FileOps().ListDirectory(logical)
	if err != nil {
		return nil, core.ToErrno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: e.Mode & unix.S_IFMT, Ino: e.Ino})
	}
	if logical == "/" {
		out = append(out, fuse.DirEntry{
			Name: config.ControlFileName,
			Mode: unix.S_IFREG,
			Ino:  config.ControlFileIno,
		})
	}
	return fs.NewListDirStream(out), fs.OK
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logical := n.childPath(name)
	log.Printf("MKDIR performed for {%v}\n", logical)
	if err := n.core.FileOps().Mkdir(logical, mode); err != nil {
		return nil, core.ToErrno(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	logical := n.childPath(name)
	log.Printf("RMDIR performed for {%v}\n", logical)
	if config.IsControlFile(logical) {
		return syscall.EPERM
	}
	if err := n.core.FileOps().Rmdir(logical); err != nil {
		return core.ToErrno(err)
	}
	n.core.Inodes.Forget(logical)
	return fs.OK
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	logical := n.childPath(name)
	log.Printf("UNLINK performed for {%v}\n", logical)
	if config.IsControlFile(logical) {
		return syscall.EPERM
	}
	if err := n.core.FileOps().Unlink(logical); err != nil {
		return core.ToErrno(err)
	}
	n.core.Inodes.Forget(logical)
	return fs.OK
}

// Create originates a file through the create policy and pins the
// resulting handle to the chosen branch.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	logical := n.childPath(name)
	log.Printf("CREATE performed for {%v}\n", logical)
	if config.IsControlFile(logical) {
		return nil, nil, 0, syscall.EACCES
	}
	fd, branchIdx, err := n.core.FileOps().OpenCreate(logical, int(flags)|unix.O_CREAT, mode)
	if err != nil {
		return nil, nil, 0, core.ToErrno(err)
	}
	b := n.core.Branches[branchIdx]
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, nil, 0, fs.ToErrno(err)
	}
	ino := n.core.SynthesizeIno(b, logical, st.Mode, st.Ino)
	attrFromStat(&out.Attr, &st, ino)

	id := n.core.Handles.Create(ino, logical, int(flags), branchIdx, fd)
	fh := NewFileHandle(n.core, id)
	fuseFlags := n.openFlags()
	return n.newChild(ctx, &st, ino), fh, fuseFlags, fs.OK
}

// Open opens an existing file through the search policy and records
// the branch affinity for the life of the handle.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	logical := n.logicalPath()
	log.Printf("OPEN performed for {%v}\n", logical)
	if n.isControl {
		if flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
			return nil, 0, syscall.EACCES
		}
		return &controlHandle{}, fuse.FOPEN_DIRECT_IO, fs.OK
	}
	fd, branchIdx, err := n.core.FileOps().OpenExisting(logical, int(flags))
	if err != nil {
		return nil, 0, core.ToErrno(err)
	}
	ino, _ := n.core.Inodes.Lookup(logical)
	id := n.core.Handles.Create(ino, logical, int(flags), branchIdx, fd)
	return NewFileHandle(n.core, id), n.openFlags(), fs.OK
}

// openFlags translates the cache.files setting into the per-open FUSE
// flags.
func (n *Node) openFlags() uint32 {
	snap := n.core.Config.Snapshot()
	var flags uint32
	if snap.ShouldUseDirectIO() {
		flags |= fuse.FOPEN_DIRECT_IO
	} else if snap.ShouldEnableKernelCache() {
		flags |= fuse.FOPEN_KEEP_CACHE
	}
	return flags
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	oldPath := n.childPath(name)
	newDir := "/" + newParent.EmbeddedInode().Path(nil)
	newPath := newDir + "/" + newName
	if newDir == "/" {
		newPath = "/" + newName
	}
	log.Printf("RENAME performed {%v} -> {%v}\n", oldPath, newPath)
	if config.IsControlFile(oldPath) || config.IsControlFile(newPath) {
		return syscall.EPERM
	}
	if err := n.core.Rename(oldPath, newPath); err != nil {
		return core.ToErrno(err)
	}
	return fs.OK
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logical := n.childPath(name)
	log.Printf("SYMLINK performed for {%v} -> {%v}\n", logical, target)
	if err := n.core.FileOps().Symlink(target, logical); err != nil {
		return nil, core.ToErrno(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.core.FileOps().Readlink(n.logicalPath())
	if err != nil {
		return nil, core.ToErrno(err)
	}
	return []byte(target), fs.OK
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src := "/" + target.EmbeddedInode().Path(nil)
	logical := n.childPath(name)
	log.Printf("LINK performed {%v} -> {%v}\n", logical, src)
	if err := n.core.FileOps().Link(src, logical); err != nil {
		return nil, core.ToErrno(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *Node) Mknod(ctx context.Context, name string, mode uint32, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logical := n.childPath(name)
	log.Printf("MKNOD performed for {%v}\n", logical)
	if err := n.core.FileOps().Mknod(logical, mode, uint64(rdev)); err != nil {
		return nil, core.ToErrno(err)
	}
	return n.Lookup(ctx, name, out)
}

// Getxattr serves ordinary attributes through the xattr policies and
// the control file's attributes from the option registry.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	if n.isControl {
		value, err := n.core.Config.GetOption(attr)
		if err != nil {
			return 0, syscall.Errno(config.Errno(err))
		}
		return fillXattrBuf(dest, []byte(value))
	}
	data, err := n.core.XattrOps().Get(n.logicalPath(), attr)
	if err != nil {
		return 0, core.ToErrno(err)
	}
	return fillXattrBuf(dest, data)
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if n.isControl {
		if err := n.core.Config.SetOption(attr, string(data)); err != nil {
			return syscall.Errno(config.Errno(err))
		}
		return fs.OK
	}
	if err := n.core.XattrOps().Set(n.logicalPath(), attr, data, flags); err != nil {
		return core.ToErrno(err)
	}
	return fs.OK
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	var names []string
	if n.isControl {
		names = n.core.Config.ListOptions()
	} else {
		var err error
		names, err = n.core.XattrOps().List(n.logicalPath())
		if err != nil {
			return 0, core.ToErrno(err)
		}
	}
	var buf []byte
	for _, name := range names {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return fillXattrBuf(dest, buf)
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if n.isControl {
		return syscall.ENOTSUP
	}
	if err := n.core.XattrOps().Remove(n.logicalPath(), attr); err != nil {
		return core.ToErrno(err)
	}
	return fs.OK
}

// fillXattrBuf implements the xattr size-probe convention: an empty
// destination asks for the size, a short one is ERANGE.
func fillXattrBuf(dest, data []byte) (uint32, syscall.Errno) {
	if len(dest) == 0 {
		return uint32(len(data)), fs.OK
	}
	if len(dest) < len(data) {
		return uint32(len(data)), syscall.ERANGE
	}
	copy(dest, data)
	return uint32(len(data)), fs.OK
}

// controlHandle backs reads of the control file, which is always
// empty.
type controlHandle struct{}

var _ = (fs.FileReader)((*controlHandle)(nil))

func (*controlHandle) Read(ctx context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(nil), fs.OK
}
