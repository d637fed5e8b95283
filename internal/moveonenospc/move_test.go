package moveonenospc

import (
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/policy/create"
)

func setupMover(t *testing.T, n int) (*Mover, []*branch.Branch) {
	t.Helper()
	branches := make([]*branch.Branch, n)
	for i := range branches {
		branches[i] = branch.New(t.TempDir(), branch.ReadWrite)
	}
	return &Mover{Branches: branches, Policy: create.FirstFound{}}, branches
}

func TestIsOutOfSpace(t *testing.T) {
	if !IsOutOfSpace(unix.ENOSPC) {
		t.Error("ENOSPC not recognized")
	}
	if !IsOutOfSpace(unix.EDQUOT) {
		t.Error("EDQUOT not recognized")
	}
	if IsOutOfSpace(unix.EIO) {
		t.Error("EIO wrongly recognized")
	}
	if IsOutOfSpace(errors.New("not an errno")) {
		t.Error("non-errno wrongly recognized")
	}
}

func TestMoveRelocatesContentAndMetadata(t *testing.T) {
	m, branches := setupMover(t, 2)
	src := branches[0].FullPath("/dir/f")
	if err := os.MkdirAll(branches[0].FullPath("/dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o640); err != nil {
		t.Fatal(err)
	}

	res, err := m.Move("/dir/f", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBranchIdx != 1 {
		t.Errorf("NewBranchIdx = %d, want 1", res.NewBranchIdx)
	}
	if _, err := os.Lstat(src); err == nil {
		t.Error("original survived the move")
	}
	data, err := os.ReadFile(branches[1].FullPath("/dir/f"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("relocated content = %q, %v", data, err)
	}
	st, err := os.Stat(branches[1].FullPath("/dir/f"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o640 {
		t.Errorf("relocated perms = %v, want 0640", st.Mode().Perm())
	}
}

func TestMoveRebindsLiveDescriptor(t *testing.T) {
	m, branches := setupMover(t, 2)
	src := branches[0].FullPath("/f")
	if err := os.WriteFile(src, []byte("abcd"), 0o644); err != nil {
		t.Fatal(err)
	}
	fd, err := unix.Open(src, unix.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	if _, err := m.Move("/f", 0, fd); err != nil {
		t.Fatal(err)
	}

	// A write through the old descriptor number must land in the
	// relocated copy.
	if _, err := unix.Pwrite(fd, []byte("ZZ"), 0); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(branches[1].FullPath("/f"))
	if err != nil || string(data) != "ZZcd" {
		t.Fatalf("relocated content after fd write = %q, %v", data, err)
	}
}

func TestMoveWithNoOtherBranch(t *testing.T) {
	m, branches := setupMover(t, 1)
	if err := os.WriteFile(branches[0].FullPath("/f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Move("/f", 0, -1); err == nil {
		t.Fatal("move succeeded with no candidate branch")
	}
}

func TestMoveOfMissingFile(t *testing.T) {
	m, _ := setupMover(t, 2)
	if _, err := m.Move("/ghost", 0, -1); err == nil {
		t.Fatal("move of a missing file succeeded")
	}
}
