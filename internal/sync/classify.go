package sync

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/schaermu/jenkinscfg/internal/jobtree"
)

// diffContext is the number of unchanged lines shown around each hunk
const diffContext = 3

// Compare splits the paths of both trees into server-only, common and
// local-only, each sorted ascending
func Compare(server, local jobtree.Tree) (removed, common, added []string) {
	removed = []string{}
	common = []string{}
	added = []string{}

	for path := range server {
		if _, ok := local[path]; ok {
			common = append(common, path)
		} else {
			removed = append(removed, path)
		}
	}
	for path := range local {
		if _, ok := server[path]; !ok {
			added = append(added, path)
		}
	}

	sort.Strings(removed)
	sort.Strings(common)
	sort.Strings(added)
	return removed, common, added
}

// Classify compares the server tree against the local tree. Common jobs are
// diffed line by line in the server-to-local direction.
func Classify(server, local jobtree.Tree) *Result {
	removed, common, added := Compare(server, local)

	result := &Result{
		Removed:   removed,
		Added:     added,
		Changed:   make(map[string]string),
		Unchanged: []string{},
	}
	for _, path := range common {
		diff := UnifiedDiff(server[path], local[path])
		if diff == "" {
			result.Unchanged = append(result.Unchanged, path)
		} else {
			result.Changed[path] = diff
		}
	}
	return result
}

// UnifiedDiff returns the unified diff from a to b with empty file labels,
// lines joined by "\n" and no trailing newline. Identical line sequences
// give "". A difference in a single trailing line terminator is not visible
// at line granularity and therefore also gives "".
func UnifiedDiff(a, b string) string {
	var body strings.Builder
	if err := writeUnifiedDiff(&body, a, b); err != nil {
		// strings.Builder never fails a write
		panic(fmt.Sprintf("unified diff into memory: %v", err))
	}
	if body.Len() == 0 {
		return ""
	}

	// difflib omits the file header when both labels are empty
	out := body.String()
	if !strings.HasPrefix(out, "--- ") {
		out = "--- \n+++ \n" + out
	}
	return strings.TrimSuffix(out, "\n")
}

func writeUnifiedDiff(w io.Writer, a, b string) error {
	return difflib.WriteUnifiedDiff(w, difflib.UnifiedDiff{
		A:       terminate(SplitLines(a)),
		B:       terminate(SplitLines(b)),
		Context: diffContext,
	})
}

// SplitLines splits s at the same boundaries as Python's str.splitlines:
// "\r\n", "\n", "\r", "\v", "\f", "\x1c" to "\x1e", U+0085, U+2028 and
// U+2029. A final terminator does not produce a trailing empty line.
func SplitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexFunc(s, isLineBreak)
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i])
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\r' && strings.HasPrefix(s[i+size:], "\n") {
			size++
		}
		s = s[i+size:]
	}
	return lines
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

func terminate(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
