package handle

import "testing"

func TestIDsStartAtOneAndIncrease(t *testing.T) {
	tbl := NewTable()
	first := tbl.Create(2, "/a", 0, 0, 3)
	second := tbl.Create(3, "/b", 0, 1, 4)
	if first != 1 {
		t.Errorf("first handle ID = %d, want 1", first)
	}
	if second <= first {
		t.Error("handle IDs must increase monotonically")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tbl := NewTable()
	id := tbl.Create(2, "/a", 0, 0, 3)
	fh, ok := tbl.Get(id)
	if !ok {
		t.Fatal("handle not found")
	}
	fh.BranchIdx = 9
	again, _ := tbl.Get(id)
	if again.BranchIdx == 9 {
		t.Error("Get must hand out a copy, not shared state")
	}
}

func TestUpdateBranch(t *testing.T) {
	tbl := NewTable()
	id := tbl.Create(2, "/a", 0, 0, 3)
	tbl.UpdateBranch(id, 2)
	fh, _ := tbl.Get(id)
	if fh.BranchIdx != 2 {
		t.Errorf("BranchIdx = %d after UpdateBranch, want 2", fh.BranchIdx)
	}
}

func TestRemove(t *testing.T) {
	tbl := NewTable()
	id := tbl.Create(2, "/a", 0, 0, 3)
	if _, ok := tbl.Remove(id); !ok {
		t.Fatal("Remove lost the handle")
	}
	if _, ok := tbl.Get(id); ok {
		t.Error("handle still visible after Remove")
	}
	if tbl.Count() != 0 {
		t.Error("Count != 0 after removing the only handle")
	}
}

func TestRenamePathRewritesOpenHandles(t *testing.T) {
	tbl := NewTable()
	exact := tbl.Create(2, "/dir/file", 0, 0, 3)
	nested := tbl.Create(3, "/dir/sub/deep", 0, 0, 4)
	sibling := tbl.Create(4, "/dirother", 0, 0, 5)

	tbl.RenamePath("/dir", "/moved")

	if fh, _ := tbl.Get(exact); fh.Path != "/moved/file" {
		t.Errorf("exact handle path = %q", fh.Path)
	}
	if fh, _ := tbl.Get(nested); fh.Path != "/moved/sub/deep" {
		t.Errorf("nested handle path = %q", fh.Path)
	}
	if fh, _ := tbl.Get(sibling); fh.Path != "/dirother" {
		t.Errorf("sibling handle path = %q, must be untouched", fh.Path)
	}
}
