package star

import (
	"fmt"
	"io"
	"strings"
)

// versionComment matches the header RELION writes above each data block.
const versionComment = "# version 30001"

// WriteTo emits the table as one data section. With singleRow set, the table
// must hold exactly one row and is written in key-value form; otherwise a
// loop_ table is written with cells padded into aligned columns. The empty
// section name produces a bare "data_" header.
func (t *Table) WriteTo(w io.Writer, section string, singleRow bool) error {
	if singleRow && len(t.rows) != 1 {
		return fmt.Errorf("star: singleRow write requires exactly 1 row, have %d", len(t.rows))
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(versionComment)
	b.WriteString("\n\ndata_")
	b.WriteString(section)
	b.WriteString("\n\n")

	if singleRow {
		width := 0
		for _, c := range t.columns {
			if len(c) > width {
				width = len(c)
			}
		}
		for i, c := range t.columns {
			fmt.Fprintf(&b, "_%-*s  %s\n", width, c, t.rows[0][i])
		}
		b.WriteString("\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("loop_\n")
	for i, c := range t.columns {
		fmt.Fprintf(&b, "_%s #%d\n", c, i+1)
	}

	widths := make([]int, len(t.columns))
	for _, row := range t.rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			fmt.Fprintf(&b, "%*s", widths[i], cell)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile writes one or more (table, section, singleRow) blocks to a new
// file, in order. Blocks are described by WriteBlock values.
func WriteFile(path string, blocks ...WriteBlock) error {
	var b strings.Builder
	for _, blk := range blocks {
		if err := blk.Table.WriteTo(&b, blk.Section, blk.SingleRow); err != nil {
			return err
		}
	}
	return writeAll(path, b.String())
}

// WriteBlock names one section of a multi-table star file.
type WriteBlock struct {
	Table     *Table
	Section   string
	SingleRow bool
}
