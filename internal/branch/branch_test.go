package branch

import "testing"

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"RW", ReadWrite, false},
		{"ro", ReadOnly, false},
		{"NC", NoCreate, false},
		{"bogus", 0, true},
	}
	for _, c := range cases {
		got, err := ParseMode(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAllows(t *testing.T) {
	rw := New("/a", ReadWrite)
	ro := New("/b", ReadOnly)
	nc := New("/c", NoCreate)

	if !rw.AllowsCreate() || !rw.AllowsAction() {
		t.Errorf("RW branch should allow create and action")
	}
	if ro.AllowsCreate() || ro.AllowsAction() {
		t.Errorf("RO branch should allow neither")
	}
	if nc.AllowsCreate() {
		t.Errorf("NC branch should not allow create")
	}
	if !nc.AllowsAction() {
		t.Errorf("NC branch should allow action")
	}
}

func TestFullPath(t *testing.T) {
	b := New("/mnt/a", ReadWrite)
	if got := b.FullPath("/foo/bar"); got != "/mnt/a/foo/bar" {
		t.Errorf("FullPath = %q", got)
	}
	if got := b.FullPath("foo/bar"); got != "/mnt/a/foo/bar" {
		t.Errorf("FullPath = %q", got)
	}
}

func TestReduce(t *testing.T) {
	errs := []*PolicyError{
		NewPolicyError(PathNotFound, nil),
		NewPolicyError(IoError, nil),
		NewPolicyError(NoSpace, nil),
	}
	got := Reduce(errs)
	if got.Kind != IoError {
		t.Errorf("Reduce picked %v, want IoError", got.Kind)
	}
}

func TestReduceEmpty(t *testing.T) {
	if got := Reduce(nil); got != nil {
		t.Errorf("Reduce(nil) = %v, want nil", got)
	}
}
