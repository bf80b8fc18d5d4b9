// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPickerParams outputs the suggested extraction parameters derived for
// a picking run.
func (p *Printer) PrintPickerParams(diameter, boxSize, boxSizeBinned int) {
	if p == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Diameter (A):          %d\n", diameter))
	sb.WriteString(fmt.Sprintf("Box size (px):         %d\n", boxSize))
	sb.WriteString(fmt.Sprintf("Box size binned (px):  %d", boxSizeBinned))
	p.printBox("Suggested Parameters", sb.String())
}

// PrintTrainingSetup outputs the derived training configuration summary.
func (p *Printer) PrintTrainingSetup(unbinnedBox, stagedMics int) {
	if p == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Unbinned box (px):     %d\n", unbinnedBox))
	sb.WriteString(fmt.Sprintf("Staged micrographs:    %d", stagedMics))
	p.printBox("Training Setup", sb.String())
}

// PrintClassSelection outputs which 2D classes were kept.
func (p *Printer) PrintClassSelection(selected []int, total int) {
	if p == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Classes kept: %d of %d\n", len(selected), total))
	ids := make([]string, 0, len(selected))
	for _, id := range selected {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	sb.WriteString("IDs: " + strings.Join(ids, ", "))
	p.printBox("Class Selection", sb.String())
}

// PrintCommands outputs the shell commands about to run.
func (p *Printer) PrintCommands(lines []string) {
	if p == nil {
		return
	}
	p.printBox("Running Commands", strings.Join(lines, "\n"))
}
