package fusebridge

import (
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/config"
)

func TestFillXattrBufSizeProbe(t *testing.T) {
	data := []byte("value")
	// Empty destination asks for the size.
	sz, errno := fillXattrBuf(nil, data)
	if errno != 0 || sz != uint32(len(data)) {
		t.Errorf("size probe = %d, %v", sz, errno)
	}
	// Short destination is ERANGE, still reporting the size.
	short := make([]byte, 2)
	sz, errno = fillXattrBuf(short, data)
	if errno != syscall.ERANGE || sz != uint32(len(data)) {
		t.Errorf("short buffer = %d, %v", sz, errno)
	}
	// Ample destination gets the bytes.
	ample := make([]byte, 16)
	sz, errno = fillXattrBuf(ample, data)
	if errno != 0 || string(ample[:sz]) != "value" {
		t.Errorf("copy = %q, %v", ample[:sz], errno)
	}
}

func TestControlAttr(t *testing.T) {
	var attr fuse.Attr
	controlAttr(&attr)
	if attr.Ino != config.ControlFileIno {
		t.Error("control file must use the reserved inode")
	}
	if attr.Mode != unix.S_IFREG|0o444 {
		t.Errorf("control file mode = %o", attr.Mode)
	}
	if attr.Size != 0 {
		t.Error("control file must be empty")
	}
	if attr.Owner.Uid != 0 || attr.Owner.Gid != 0 {
		t.Error("control file must be owned by root")
	}
}

func TestAttrFromStat(t *testing.T) {
	st := unix.Stat_t{
		Size:  42,
		Mode:  unix.S_IFREG | 0o640,
		Nlink: 2,
		Uid:   1000,
		Gid:   1000,
	}
	var attr fuse.Attr
	attrFromStat(&attr, &st, 777)
	if attr.Ino != 777 {
		t.Error("synthesized inode not applied")
	}
	if attr.Size != 42 || attr.Nlink != 2 || attr.Mode != st.Mode {
		t.Errorf("attr = %+v", attr)
	}
}
