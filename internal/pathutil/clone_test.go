package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCloneDirChainBasic(t *testing.T) {
	template := t.TempDir()
	target := t.TempDir()

	if err := os.MkdirAll(filepath.Join(template, "a/b/c"), 0o750); err != nil {
		t.Fatal(err)
	}

	if err := CloneDirChain(template, target, "/a/b/c"); err != nil {
		t.Fatalf("CloneDirChain: %v", err)
	}

	for _, rel := range []string{"a", "a/b", "a/b/c"} {
		info, err := os.Stat(filepath.Join(target, rel))
		if err != nil {
			t.Fatalf("stat %s: %v", rel, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", rel)
		}
	}
}

func TestCloneDirChainIdempotent(t *testing.T) {
	template := t.TempDir()
	target := t.TempDir()
	if err := os.MkdirAll(filepath.Join(template, "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(target, "x"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := CloneDirChain(template, target, "/x"); err != nil {
		t.Fatalf("CloneDirChain on pre-existing dir: %v", err)
	}
}

func TestCloneDirChainEmpty(t *testing.T) {
	if err := CloneDirChain(t.TempDir(), t.TempDir(), "/"); err != nil {
		t.Fatalf("CloneDirChain(\"/\") should be a no-op: %v", err)
	}
}
