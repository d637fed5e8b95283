package statfsagg

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"
)

// Branches created under t.TempDir() share one backing filesystem, so
// the dedup step must collapse them to a single contribution.
func TestDeduplicatesSharedDevice(t *testing.T) {
	a := branch.New(t.TempDir(), branch.ReadWrite)
	b := branch.New(t.TempDir(), branch.ReadWrite)

	single := &Ops{Branches: []*branch.Branch{a}}
	double := &Ops{Branches: []*branch.Branch{a, b}}

	one, err := single.StatFS("/")
	if err != nil {
		t.Fatal(err)
	}
	two, err := double.StatFS("/")
	if err != nil {
		t.Fatal(err)
	}
	// Totals fluctuate slightly between calls on a live filesystem;
	// a doubled total would be way outside that noise.
	if two.Blocks > one.Blocks+one.Blocks/2 {
		t.Errorf("blocks doubled across same-device branches: %d vs %d", two.Blocks, one.Blocks)
	}
}

func TestIgnoreReadOnlyExcludesAvailability(t *testing.T) {
	a := branch.New(t.TempDir(), branch.ReadOnly)
	ops := &Ops{
		Branches: []*branch.Branch{a},
		Ignore:   config.StatFSIgnoreRO,
	}
	st, err := ops.StatFS("/")
	if err != nil {
		t.Fatal(err)
	}
	if st.Blocks == 0 {
		t.Error("filtered branch must still count toward total blocks")
	}
	if st.Bavail != 0 || st.Bfree != 0 || st.Ffree != 0 {
		t.Error("filtered branch leaked into the availability totals")
	}
}

func TestAvailabilityNeverExceedsCapacity(t *testing.T) {
	a := branch.New(t.TempDir(), branch.ReadWrite)
	ops := &Ops{Branches: []*branch.Branch{a}}
	st, err := ops.StatFS("/")
	if err != nil {
		t.Fatal(err)
	}
	if st.Bavail > st.Blocks {
		t.Errorf("bavail %d > blocks %d", st.Bavail, st.Blocks)
	}
	if st.Namelen == 0 || st.Bsize == 0 {
		t.Error("geometry fields not populated")
	}
}

func TestNoBranches(t *testing.T) {
	ops := &Ops{}
	if _, err := ops.StatFS("/"); err != unix.ENOENT {
		t.Fatalf("statfs over an empty pool = %v, want ENOENT", err)
	}
}
