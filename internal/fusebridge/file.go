// A FileHandle represents an open file at the overlay level: the
// descriptor pinned to the branch the file was opened from, plus the
// handle-table entry move-on-ENOSPC re-binds when a branch fills up.
package fusebridge

import (
	"context"
	"log"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/core"
	"github.com/smallblue2/mergerfs-go/internal/moveonenospc"
)

// FileHandle is the bridge-side view of one open file.
type FileHandle struct {
	mu sync.Mutex

	// id keys into the core's handle table.
	id   uint64
	core *core.Core
}

// Interfaces for Filehandles
var _ = (fs.FileHandle)((*FileHandle)(nil))
var _ = (fs.FileReader)((*FileHandle)(nil))
var _ = (fs.FileWriter)((*FileHandle)(nil))
var _ = (fs.FileFlusher)((*FileHandle)(nil))
var _ = (fs.FileFsyncer)((*FileHandle)(nil))
var _ = (fs.FileReleaser)((*FileHandle)(nil))
var _ = (fs.FileGetattrer)((*FileHandle)(nil))
var _ = (fs.FileLseeker)((*FileHandle)(nil))

// NewFileHandle wraps a handle-table entry for the kernel bridge.
func NewFileHandle(c *core.Core, id uint64) *FileHandle {
	return &FileHandle{id: id, core: c}
}

func (f *FileHandle) fd() (int, syscall.Errno) {
	fh, ok := f.core.Handles.Get(f.id)
	if !ok || fh.Fd < 0 {
		return -1, syscall.EBADF
	}
	return fh.Fd, 0
}

func (f *FileHandle) Read(ctx context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultFd(uintptr(fd), offset, len(dest)), fs.OK
}

// Write pushes data at an offset through the pinned descriptor. When
// the branch runs out of space and relocation is enabled, the file
// moves to another branch, the descriptor is rebound in place, and the
// write retries once.
func (f *FileHandle) Write(ctx context.Context, data []byte, offset int64) (uint32, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return 0, errno
	}
	n, err := unix.Pwrite(fd, data, offset)
	if err != nil && moveonenospc.IsOutOfSpace(err) {
		log.Printf("Write hit %v, attempting relocation\n", err)
		if merr := f.core.RecoverENOSPC(f.id); merr == nil {
			// dup2 keeps the descriptor number; retry through it.
			n, err = unix.Pwrite(fd, data, offset)
		}
	}
	if err != nil {
		return uint32(n), fs.ToErrno(err)
	}
	return uint32(n), fs.OK
}

func (f *FileHandle) Flush(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return errno
	}
	// Dup-and-close forces the flush without retiring the handle.
	tmpfd, err := syscall.Dup(fd)
	if err != nil {
		return fs.ToErrno(err)
	}
	return fs.ToErrno(syscall.Close(tmpfd))
}

func (f *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return errno
	}
	return fs.ToErrno(syscall.Fsync(fd))
}

func (f *FileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return errno
	}
	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		return fs.ToErrno(err)
	}
	out.FromStat(&st)
	fh, ok := f.core.Handles.Get(f.id)
	if ok {
		out.Ino = fh.Ino
	}
	return fs.OK
}

func (f *FileHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, errno := f.fd()
	if errno != 0 {
		return 0, errno
	}
	n, err := unix.Seek(fd, int64(off), int(whence))
	return uint64(n), fs.ToErrno(err)
}

func (f *FileHandle) Release(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, ok := f.core.Handles.Remove(f.id)
	if !ok {
		return fs.OK
	}
	if fh.Fd >= 0 {
		return fs.ToErrno(syscall.Close(fh.Fd))
	}
	return fs.OK
}
