package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot returned error: %v", err)
	}
	if root == "" {
		t.Fatal("FindProjectRoot returned empty string")
	}

	goMod := filepath.Join(root, "go.mod")
	if _, err := os.Stat(goMod); err != nil {
		t.Fatalf("go.mod not found at %s: %v", goMod, err)
	}
}

func TestFixture(t *testing.T) {
	path := Fixture(t, "jobs", "HelloWorldFolder", "config.xml")

	if filepath.Base(filepath.Dir(filepath.Dir(path))) != "jobs" {
		t.Errorf("unexpected fixture path %s", path)
	}
}

func TestCopyFixture(t *testing.T) {
	dir := CopyFixture(t, "jobs")

	job := filepath.Join(dir, "HelloWorldFolder", "NestedHelloWorldFolder", "HelloWorldJob", "config.xml")
	if _, err := os.Stat(job); err != nil {
		t.Fatalf("expected nested job in copy: %v", err)
	}

	// The copy is independent of the fixture
	if err := os.WriteFile(job, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}
	orig, err := os.ReadFile(Fixture(t, "jobs", "HelloWorldFolder", "NestedHelloWorldFolder", "HelloWorldJob", "config.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(orig) == "changed" {
		t.Error("writing to the copy modified the fixture")
	}
}
