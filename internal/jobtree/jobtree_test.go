package jobtree

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/schaermu/jenkinscfg/internal/jenkins"
	"github.com/schaermu/jenkinscfg/internal/testutil"
)

var (
	serverJobs = Tree{"s": "a", "s/n": "b", "t": "c"}
	localJobs  = Tree{"s": "a", "s/m": "b", "t": "d"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubLister returns a fixed hierarchy and derives configs from the path
type stubLister struct {
	nodes   []jenkins.Node
	suffix  string
	fetched []string
	failOn  string
}

func (s *stubLister) ListJobs(_ context.Context) ([]jenkins.Node, error) {
	return s.nodes, nil
}

func (s *stubLister) GetJobConfig(_ context.Context, path string) (string, error) {
	s.fetched = append(s.fetched, path)
	if path == s.failOn {
		return "", errors.New("boom")
	}
	return path + "-" + s.suffix, nil
}

func TestServerPaths(t *testing.T) {
	nodes := []jenkins.Node{
		{Name: "a", Jobs: []jenkins.Node{
			{Name: "b", Jobs: []jenkins.Node{{Name: "c"}}},
			{Name: "d"},
		}},
		{Name: "e"},
	}

	got := ServerPaths(nodes, "")
	want := []string{"a/b/c", "a/b", "a/d", "a", "e"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ServerPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestServerPaths_EmptyFolder(t *testing.T) {
	nodes := []jenkins.Node{{Name: "empty", Jobs: []jenkins.Node{}}}
	got := ServerPaths(nodes, "")
	if diff := cmp.Diff([]string{"empty"}, got); diff != "" {
		t.Errorf("ServerPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestFromServer(t *testing.T) {
	server := &stubLister{
		nodes:  []jenkins.Node{{Name: "a", Jobs: []jenkins.Node{{Name: "b"}}}, {Name: "c"}},
		suffix: "conf",
	}

	tree, err := FromServer(context.Background(), server, testLogger())
	if err != nil {
		t.Fatalf("FromServer: %v", err)
	}

	want := Tree{"a": "a-conf", "a/b": "a/b-conf", "c": "c-conf"}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("FromServer mismatch (-want +got):\n%s", diff)
	}

	// Children are fetched ahead of their parent
	if diff := cmp.Diff([]string{"a/b", "a", "c"}, server.fetched); diff != "" {
		t.Errorf("fetch order mismatch (-want +got):\n%s", diff)
	}
}

func TestFromServer_FetchFailureAborts(t *testing.T) {
	server := &stubLister{
		nodes:  []jenkins.Node{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		failOn: "b",
	}

	tree, err := FromServer(context.Background(), server, testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if tree != nil {
		t.Errorf("expected no partial tree, got %v", tree)
	}
	if diff := cmp.Diff([]string{"a", "b"}, server.fetched); diff != "" {
		t.Errorf("fetch order mismatch (-want +got):\n%s", diff)
	}
}

func TestFromServer_ListFailure(t *testing.T) {
	fake := testutil.NewFakeJenkins(nil)
	fake.FailOn("list", "", errors.New("unreachable"))

	if _, err := FromServer(context.Background(), fake, testLogger()); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.Fetches()) != 0 {
		t.Errorf("expected no fetches, got %v", fake.Fetches())
	}
}

func TestFromServer_FakeJenkins(t *testing.T) {
	fake := testutil.NewFakeJenkins(map[string]string(serverJobs))

	tree, err := FromServer(context.Background(), fake, testLogger())
	if err != nil {
		t.Fatalf("FromServer: %v", err)
	}
	if diff := cmp.Diff(serverJobs, tree); diff != "" {
		t.Errorf("FromServer mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteThenLoad(t *testing.T) {
	root := t.TempDir()

	if err := Write(localJobs, root); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for path, want := range localJobs {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path), ConfigFileName))
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}

	tree, err := Load(root, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(localJobs, tree); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ContentIsVerbatim(t *testing.T) {
	root := t.TempDir()
	content := "<?xml version='1.1' encoding='UTF-8'?>\r\n<project>  \n</project>\n\n"
	dir := filepath.Join(root, "folder", "job")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := Load(root, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Tree{"folder/job": content}, tree); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"job/config.xml":        "job",
		"job/config.xml.bak":    "backup",
		"job/builds/log":        "log",
		"nojob/notes.txt":       "notes",
		"config.xml":            "root marker",
		"deep/a/b/c/config.xml": "deep",
		".hidden/config.xml":    "hidden",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tree, err := Load(root, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Tree{"job": "job", "deep/a/b/c": "deep", ".hidden": "hidden"}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingRoot(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), testLogger()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestLoad_RootIsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p, testLogger()); err == nil {
		t.Fatal("expected error when root is a file")
	}
}

func TestLoad_UnreadableFile(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can read files regardless of mode")
	}

	root := t.TempDir()
	dir := filepath.Join(root, "job")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(p, []byte("x"), 0000); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(root, testLogger()); err == nil {
		t.Fatal("expected error for unreadable config")
	}
}

func TestWrite_Overwrites(t *testing.T) {
	root := t.TempDir()
	if err := Write(Tree{"a": "old"}, root); err != nil {
		t.Fatal(err)
	}
	if err := Write(Tree{"a": "new"}, root); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(root, "a", ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("expected new content, got %q", got)
	}

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Join(root, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only config.xml, got %d entries", len(entries))
	}
}

func TestWrite_RejectsInvalidPaths(t *testing.T) {
	for _, path := range []string{"", "a//b", "../escape", "a/./b"} {
		if err := Write(Tree{path: "x"}, t.TempDir()); err == nil {
			t.Errorf("Write(%q) expected error", path)
		}
	}
}

func TestPaths(t *testing.T) {
	tree := Tree{"b": "", "a/b": "", "a": "", "a-b": ""}
	want := []string{"a", "a-b", "a/b", "b"}
	if diff := cmp.Diff(want, tree.Paths()); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
}
