package renameplanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"
	"github.com/smallblue2/mergerfs-go/internal/policy/action"
	"github.com/smallblue2/mergerfs-go/internal/policy/create"
	"github.com/smallblue2/mergerfs-go/internal/policy/search"
)

func setupPlanner(t *testing.T, modes ...branch.Mode) (*Planner, []*branch.Branch) {
	t.Helper()
	branches := make([]*branch.Branch, len(modes))
	for i, m := range modes {
		branches[i] = branch.New(t.TempDir(), m)
	}
	return &Planner{
		Branches:  branches,
		Create:    create.FirstFound{},
		Action:    action.All{},
		Search:    search.FirstFound{},
		EXDEVMode: config.RenameEXDEVPassthrough,
	}, branches
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestSimpleRenameSameDirectory(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/a"), "data")
	if err := p.Rename("/a", "/b"); err != nil {
		t.Fatal(err)
	}
	if exists(branches[0].FullPath("/a")) {
		t.Error("source survived the rename")
	}
	got, err := os.ReadFile(branches[0].FullPath("/b"))
	if err != nil || string(got) != "data" {
		t.Fatalf("destination = %q, %v", got, err)
	}
}

func TestRenameAcrossDirectoriesCreatePath(t *testing.T) {
	// B hosts dir1/file.txt; A has no dir1 at all. The create-path
	// strategy fabricates dir2 on B and leaves A untouched.
	p, branches := setupPlanner(t, branch.ReadWrite, branch.ReadWrite)
	mustWrite(t, branches[1].FullPath("/dir1/file.txt"), "v")

	if err := p.Rename("/dir1/file.txt", "/dir2/renamed"); err != nil {
		t.Fatal(err)
	}
	if !exists(branches[1].FullPath("/dir2/renamed")) {
		t.Error("destination missing on the hosting branch")
	}
	if exists(branches[1].FullPath("/dir1/file.txt")) {
		t.Error("source survived on the hosting branch")
	}
	if exists(branches[0].FullPath("/dir2")) || exists(branches[0].FullPath("/dir1")) {
		t.Error("non-hosting branch was touched")
	}
}

func TestRenameNonexistentSource(t *testing.T) {
	p, _ := setupPlanner(t, branch.ReadWrite)
	if err := p.Rename("/ghost", "/elsewhere"); err != ErrNotFound {
		t.Fatalf("rename of missing source = %v, want ErrNotFound", err)
	}
}

func TestRenameOntoItselfIsNoOp(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/same"), "x")
	if err := p.Rename("/same", "/same"); err != nil {
		t.Fatal(err)
	}
	if !exists(branches[0].FullPath("/same")) {
		t.Error("self-rename removed the file")
	}
}

func TestRenameMultiBranchRenamesEveryCopy(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadWrite, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/dup"), "a")
	mustWrite(t, branches[1].FullPath("/dup"), "b")
	if err := p.Rename("/dup", "/moved"); err != nil {
		t.Fatal(err)
	}
	for i, b := range branches {
		if exists(b.FullPath("/dup")) {
			t.Errorf("branch %d: source survived", i)
		}
		if !exists(b.FullPath("/moved")) {
			t.Errorf("branch %d: destination missing", i)
		}
	}
}

func TestRenameSourceOnlyOnReadOnlyBranch(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadOnly, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/locked"), "x")
	if err := p.Rename("/locked", "/elsewhere"); err == nil {
		t.Fatal("rename succeeded with the source only on a read-only branch")
	}
	if !exists(branches[0].FullPath("/locked")) {
		t.Error("read-only branch was modified")
	}
}

func TestRenameCollectsStaleDestination(t *testing.T) {
	// Source lives on A; B carries a stale copy of the destination
	// name. After the rename B's stale copy is gone.
	p, branches := setupPlanner(t, branch.ReadWrite, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/src"), "live")
	mustWrite(t, branches[1].FullPath("/dst"), "stale")
	if err := p.Rename("/src", "/dst"); err != nil {
		t.Fatal(err)
	}
	if !exists(branches[0].FullPath("/dst")) {
		t.Error("destination missing on the source's branch")
	}
	if exists(branches[1].FullPath("/dst")) {
		t.Error("stale destination survived the sweep")
	}
}

func TestPathPreservingRenameDoesNotFabricateParent(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadWrite)
	p.Create = create.ExistingPathFirstFound{}
	mustWrite(t, branches[0].FullPath("/f"), "x")
	err := p.Rename("/f", "/no-such-dir/f")
	if err == nil {
		t.Fatal("path-preserving rename fabricated a missing parent")
	}
	if exists(branches[0].FullPath("/no-such-dir")) {
		t.Error("parent directory was fabricated")
	}
	if !exists(branches[0].FullPath("/f")) {
		t.Error("failed rename lost the source")
	}
}

func TestIgnorePathPreservingForcesCreatePath(t *testing.T) {
	p, branches := setupPlanner(t, branch.ReadWrite)
	p.Create = create.ExistingPathFirstFound{}
	p.IgnorePathPreserving = true
	mustWrite(t, branches[0].FullPath("/f"), "x")
	if err := p.Rename("/f", "/made-up/f"); err != nil {
		t.Fatal(err)
	}
	if !exists(branches[0].FullPath("/made-up/f")) {
		t.Error("create-path strategy did not materialize the parent")
	}
}

func TestCreatePathClonesParentFromTemplateBranch(t *testing.T) {
	// The destination parent exists only on B with distinctive perms;
	// the rename happens on A and must clone B's directory.
	p, branches := setupPlanner(t, branch.ReadWrite, branch.ReadWrite)
	mustWrite(t, branches[0].FullPath("/f"), "x")
	if err := os.Mkdir(branches[1].FullPath("/target"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := p.Rename("/f", "/target/f"); err != nil {
		t.Fatal(err)
	}
	if !exists(branches[0].FullPath("/target/f")) {
		t.Fatal("rename did not land in the cloned parent")
	}
	st, err := os.Stat(branches[0].FullPath("/target"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o700 {
		t.Errorf("cloned parent perms = %v, want 0700", st.Mode().Perm())
	}
}

func TestErrorPriorityOrdering(t *testing.T) {
	ordered := []Error{
		ErrNotFound,
		ErrPermissionDenied,
		ErrReadOnly,
		ErrNoSpace,
		ErrCrossDevice,
		ErrDestinationExists,
		ErrInvalidPath,
		ErrIO,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] <= ordered[i-1] {
			t.Errorf("%v must outrank %v", ordered[i], ordered[i-1])
		}
	}
}

func TestRelativeTo(t *testing.T) {
	cases := []struct {
		fromDir, target, want string
	}{
		{"/a/b", "/a/c", "../c"},
		{"/a", "/a/b", "b"},
		{"/x/y", "/z", "../../z"},
		{"/", "/f", "f"},
	}
	for _, c := range cases {
		if got := relativeTo(c.fromDir, c.target); got != c.want {
			t.Errorf("relativeTo(%q, %q) = %q, want %q", c.fromDir, c.target, got, c.want)
		}
	}
}
