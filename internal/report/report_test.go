package report

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/schaermu/jenkinscfg/internal/jobtree"
	"github.com/schaermu/jenkinscfg/internal/sync"
)

func TestDiff(t *testing.T) {
	server := jobtree.Tree{"s": "a", "s/n": "b", "t": "c"}
	local := jobtree.Tree{"s": "a", "s/m": "b", "t": "d"}

	got := Diff(sync.Classify(server, local), Options{})

	want := "Changed   t\n" +
		"--- \n" +
		"+++ \n" +
		"@@ -1 +1 @@\n" +
		"-c\n" +
		"+d\n" +
		"\n" +
		"Unchanged s\n" +
		"Removed   s/n\n" +
		"Added     s/m\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_SortedWithinCategory(t *testing.T) {
	result := &sync.Result{
		Removed:   []string{"a", "b/c"},
		Added:     []string{"x", "y"},
		Changed:   map[string]string{"z": "--- \n+++ \n@@ -1 +1 @@\n-1\n+2", "m": "--- \n+++ \n@@ -1 +1 @@\n-3\n+4"},
		Unchanged: []string{"k"},
	}

	got := Diff(result, Options{})

	var headers []string
	for _, l := range strings.Split(got, "\n") {
		for _, label := range []string{LabelChanged, LabelUnchanged, LabelRemoved, LabelAdded} {
			if strings.HasPrefix(l, label+" ") {
				headers = append(headers, l)
			}
		}
	}
	want := []string{
		"Changed   m",
		"Changed   z",
		"Unchanged k",
		"Removed   a",
		"Removed   b/c",
		"Added     x",
		"Added     y",
	}
	if diff := cmp.Diff(want, headers); diff != "" {
		t.Errorf("header order mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_Empty(t *testing.T) {
	got := Diff(sync.Classify(jobtree.Tree{}, jobtree.Tree{}), Options{})
	if got != "" {
		t.Errorf("expected empty report, got %q", got)
	}
}

func TestDiff_Deterministic(t *testing.T) {
	server := jobtree.Tree{"a": "1", "b": "2", "c": "3", "d": "4"}
	local := jobtree.Tree{"b": "2", "c": "x", "d": "y", "e": "5"}

	first := Diff(sync.Classify(server, local), Options{})
	for i := 0; i < 10; i++ {
		if got := Diff(sync.Classify(server, local), Options{}); got != first {
			t.Fatalf("report differs between runs:\n%s\nvs\n%s", first, got)
		}
	}
}

func TestDiff_Color(t *testing.T) {
	// NO_COLOR in the environment would otherwise disable escapes
	text.EnableColors()

	result := &sync.Result{Added: []string{"new"}, Changed: map[string]string{}}

	plain := Diff(result, Options{})
	colored := Diff(result, Options{Color: true})

	if plain == colored {
		t.Fatal("expected colored output to differ from plain output")
	}
	if !strings.Contains(colored, "\x1b[") {
		t.Errorf("expected ANSI escape in colored output, got %q", colored)
	}
	if !strings.HasSuffix(colored, " new\n") {
		t.Errorf("expected path after label, got %q", colored)
	}
}
