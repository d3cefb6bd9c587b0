// Package report renders classification results as plain text.
package report

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/schaermu/jenkinscfg/internal/sync"
)

// labelWidth fits the longest label, "Unchanged"
const labelWidth = 9

// Category labels, in report order
const (
	LabelChanged   = "Changed"
	LabelUnchanged = "Unchanged"
	LabelRemoved   = "Removed"
	LabelAdded     = "Added"
)

var labelColors = map[string]text.Colors{
	LabelChanged:   {text.FgYellow},
	LabelUnchanged: {text.Faint},
	LabelRemoved:   {text.FgRed},
	LabelAdded:     {text.FgGreen},
}

// Options controls report rendering
type Options struct {
	// Color wraps labels in ANSI colour codes
	Color bool
}

// Diff renders a diff report: changed jobs with their diffs, then
// unchanged, removed and added jobs, each group sorted by path
func Diff(result *sync.Result, opts Options) string {
	var b strings.Builder

	for _, path := range result.ChangedPaths() {
		b.WriteString(line(LabelChanged, path, opts))
		b.WriteString(result.Changed[path])
		b.WriteString("\n\n")
	}
	for _, path := range result.Unchanged {
		b.WriteString(line(LabelUnchanged, path, opts))
	}
	for _, path := range result.Removed {
		b.WriteString(line(LabelRemoved, path, opts))
	}
	for _, path := range result.Added {
		b.WriteString(line(LabelAdded, path, opts))
	}

	return b.String()
}

func line(label, path string, opts Options) string {
	padded := text.AlignLeft.Apply(label, labelWidth)
	if opts.Color {
		padded = labelColors[label].Sprint(padded)
	}
	return padded + " " + path + "\n"
}
