package create

import (
	"os"
	"testing"

	"github.com/smallblue2/mergerfs-go/internal/branch"
)

func tempBranch(t *testing.T, mode branch.Mode) *branch.Branch {
	t.Helper()
	dir := t.TempDir()
	return branch.New(dir, mode)
}

func TestFirstFoundSkipsReadOnly(t *testing.T) {
	ro := tempBranch(t, branch.ReadOnly)
	rw := tempBranch(t, branch.ReadWrite)
	got, err := FirstFound{}.SelectBranch([]*branch.Branch{ro, rw}, "/f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != rw {
		t.Errorf("FirstFound selected %v, want the writable branch", got)
	}
}

func TestFirstFoundAllReadOnly(t *testing.T) {
	ro := tempBranch(t, branch.ReadOnly)
	_, err := FirstFound{}.SelectBranch([]*branch.Branch{ro}, "/f")
	if err == nil {
		t.Fatal("expected ReadOnlyFilesystem error")
	}
	pe, ok := err.(*branch.PolicyError)
	if !ok || pe.Kind != branch.ReadOnlyFilesystem {
		t.Errorf("got %v, want ReadOnlyFilesystem", err)
	}
}

func TestFirstFoundEmptyPool(t *testing.T) {
	_, err := FirstFound{}.SelectBranch(nil, "/f")
	pe, ok := err.(*branch.PolicyError)
	if !ok || pe.Kind != branch.NoBranchesAvailable {
		t.Errorf("got %v, want NoBranchesAvailable", err)
	}
}

func TestExistingPathMissingParent(t *testing.T) {
	rw := tempBranch(t, branch.ReadWrite)
	_, err := ExistingPathFirstFound{}.SelectBranch([]*branch.Branch{rw}, "/no/parent/file")
	pe, ok := err.(*branch.PolicyError)
	if !ok || pe.Kind != branch.PathNotFound {
		t.Errorf("got %v, want PathNotFound", err)
	}
}

func TestPFRDSingleBranch(t *testing.T) {
	rw := tempBranch(t, branch.ReadWrite)
	got, err := ProportionalFillRandomDistribution{}.SelectBranch([]*branch.Branch{rw}, "/f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != rw {
		t.Errorf("expected the only branch to be chosen")
	}
}

func TestPFRDExcludesNoCreate(t *testing.T) {
	nc := tempBranch(t, branch.NoCreate)
	rw := tempBranch(t, branch.ReadWrite)
	for i := 0; i < 20; i++ {
		got, err := ProportionalFillRandomDistribution{}.SelectBranch([]*branch.Branch{nc, rw}, "/f")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nc {
			t.Fatalf("pfrd selected a NoCreate branch")
		}
	}
}

func TestExistingPathFirstFound(t *testing.T) {
	b1 := tempBranch(t, branch.ReadWrite)
	b2 := tempBranch(t, branch.ReadWrite)
	if err := os.Mkdir(b2.Path+"/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := ExistingPathFirstFound{}.SelectBranch([]*branch.Branch{b1, b2}, "/sub/file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != b2 {
		t.Errorf("epff selected %v, want b2 (has existing parent)", got)
	}
}

func TestMostFreeSpacePicksSomething(t *testing.T) {
	b1 := tempBranch(t, branch.ReadWrite)
	b2 := tempBranch(t, branch.ReadWrite)
	got, err := MostFreeSpace{}.SelectBranch([]*branch.Branch{b1, b2}, "/f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != b1 && got != b2 {
		t.Errorf("mfs returned a branch not in the pool")
	}
}
