package xattrops

import (
	"os"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy/action"
	"github.com/smallblue2/mergerfs-go/internal/policy/search"
)

func setupOps(t *testing.T, modes ...branch.Mode) (*Ops, []*branch.Branch) {
	t.Helper()
	branches := make([]*branch.Branch, len(modes))
	for i, m := range modes {
		branches[i] = branch.New(t.TempDir(), m)
	}
	return &Ops{
		Branches: branches,
		Action:   action.All{},
		Search:   search.FirstFound{},
	}, branches
}

// requireXattrSupport skips when the test filesystem has no user xattr
// support (tmpfs without user_xattr, for one).
func requireXattrSupport(t *testing.T, dir string) {
	t.Helper()
	probe := dir + "/xattr-probe"
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err := unix.Setxattr(probe, "user.probe", []byte("1"), 0)
	os.Remove(probe)
	if err == unix.ENOTSUP || err == unix.EOPNOTSUPP {
		t.Skip("filesystem does not support user xattrs")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	ops, branches := setupOps(t, branch.ReadWrite)
	requireXattrSupport(t, branches[0].Path)
	if err := os.WriteFile(branches[0].FullPath("/f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ops.Set("/f", "user.test", []byte("value"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := ops.Get("/f", "user.test")
	if err != nil || string(got) != "value" {
		t.Fatalf("get = %q, %v", got, err)
	}
	names, err := ops.List("/f")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range names {
		if n == "user.test" {
			found = true
		}
	}
	if !found {
		t.Errorf("listxattr = %v, missing user.test", names)
	}
	if err := ops.Remove("/f", "user.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := ops.Get("/f", "user.test"); err == nil {
		t.Error("attribute survived removal")
	}
}

func TestCreateReplaceFlagSemantics(t *testing.T) {
	ops, branches := setupOps(t, branch.ReadWrite)
	requireXattrSupport(t, branches[0].Path)
	if err := os.WriteFile(branches[0].FullPath("/f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ops.Set("/f", "user.a", []byte("1"), unix.XATTR_CREATE); err != nil {
		t.Fatalf("create of absent attr: %v", err)
	}
	if err := ops.Set("/f", "user.a", []byte("2"), unix.XATTR_CREATE); err != syscall.EINVAL {
		t.Errorf("create of present attr = %v, want EINVAL", err)
	}
	if err := ops.Set("/f", "user.absent", []byte("2"), unix.XATTR_REPLACE); err != syscall.ENODATA {
		t.Errorf("replace of absent attr = %v, want ENODATA", err)
	}
	if err := ops.Set("/f", "user.a", []byte("2"), unix.XATTR_REPLACE); err != nil {
		t.Errorf("replace of present attr: %v", err)
	}
}

func TestReservedNamespaceGuard(t *testing.T) {
	ops, branches := setupOps(t, branch.ReadWrite)
	if err := os.WriteFile(branches[0].FullPath("/f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ops.Set("/f", "user.mergerfs.basepath", []byte("v"), 0); err != syscall.EPERM {
		t.Errorf("set of reserved attr = %v, want EPERM", err)
	}
	if err := ops.Remove("/f", "user.mergerfs.relpath"); err != syscall.EPERM {
		t.Errorf("remove of reserved attr = %v, want EPERM", err)
	}
}

func TestSyntheticAttributes(t *testing.T) {
	ops, branches := setupOps(t, branch.ReadWrite, branch.ReadWrite)
	for _, b := range branches {
		if err := os.WriteFile(b.FullPath("/f"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	base, err := ops.Get("/f", "user.mergerfs.basepath")
	if err != nil || string(base) != branches[0].Path {
		t.Errorf("basepath = %q, %v; want %q", base, err, branches[0].Path)
	}
	rel, err := ops.Get("/f", "user.mergerfs.relpath")
	if err != nil || string(rel) != "/f" {
		t.Errorf("relpath = %q, %v", rel, err)
	}
	full, err := ops.Get("/f", "user.mergerfs.fullpath")
	if err != nil || string(full) != branches[0].FullPath("/f") {
		t.Errorf("fullpath = %q, %v", full, err)
	}
	all, err := ops.Get("/f", "user.mergerfs.allpaths")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(string(all), "\x00")
	if len(parts) != 2 || parts[0] != branches[0].FullPath("/f") || parts[1] != branches[1].FullPath("/f") {
		t.Errorf("allpaths = %q", all)
	}

	if _, err := ops.Get("/f", "user.mergerfs.unknown"); err != syscall.ENODATA {
		t.Errorf("unknown reserved attr = %v, want ENODATA", err)
	}
}

func TestSetFansOutToEveryHostingBranch(t *testing.T) {
	ops, branches := setupOps(t, branch.ReadWrite, branch.ReadWrite)
	requireXattrSupport(t, branches[0].Path)
	requireXattrSupport(t, branches[1].Path)
	for _, b := range branches {
		if err := os.WriteFile(b.FullPath("/f"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ops.Set("/f", "user.fan", []byte("out"), 0); err != nil {
		t.Fatal(err)
	}
	for i, b := range branches {
		buf := make([]byte, 8)
		n, err := unix.Getxattr(b.FullPath("/f"), "user.fan", buf)
		if err != nil || string(buf[:n]) != "out" {
			t.Errorf("branch %d: attr = %q, %v", i, buf[:n], err)
		}
	}
}
