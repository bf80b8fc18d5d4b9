// Package star reads and writes the sectioned, named-table text format used by
// RELION metadata files. A file holds one or more "data_<name>" sections, each
// either a loop_ table (column headers followed by whitespace-separated rows)
// or a key-value block describing a single row.
package star

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Table is an ordered set of named columns and string-valued rows.
// Cell values keep their original textual form; use the Row accessors
// for typed reads.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewTable creates an empty table with the given column order.
func NewTable(columns ...string) *Table {
	t := &Table{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range t.columns {
		t.index[c] = i
	}
	return t
}

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// HasColumn reports whether the table declares the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// AppendRow adds one row. The number of cells must match the column count.
func (t *Table) AppendRow(cells ...string) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("star: row has %d cells, table has %d columns", len(cells), len(t.columns))
	}
	t.rows = append(t.rows, append([]string(nil), cells...))
	return nil
}

// Row returns an accessor for row i. Panics if i is out of range, matching
// slice semantics.
func (t *Table) Row(i int) Row {
	return Row{table: t, cells: t.rows[i]}
}

// ColumnValues returns every cell of the named column, in row order.
func (t *Table) ColumnValues(name string) ([]string, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("star: no column %q", name)
	}
	values := make([]string, 0, len(t.rows))
	for _, row := range t.rows {
		values = append(values, row[i])
	}
	return values, nil
}

// Row is a read-only view of one table row.
type Row struct {
	table *Table
	cells []string
}

// Cells returns the raw cell values in column order.
func (r Row) Cells() []string {
	return append([]string(nil), r.cells...)
}

// Str returns the raw value of the named column.
func (r Row) Str(column string) (string, error) {
	i, ok := r.table.index[column]
	if !ok {
		return "", fmt.Errorf("star: no column %q", column)
	}
	return r.cells[i], nil
}

// Float parses the named column as a float64.
func (r Row) Float(column string) (float64, error) {
	s, err := r.Str(column)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("star: column %q: %w", column, err)
	}
	return v, nil
}

// Int parses the named column as an int. Values written in float form
// (e.g. "128.000000") are accepted and truncated.
func (r Row) Int(column string) (int, error) {
	s, err := r.Str(column)
	if err != nil {
		return 0, err
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("star: column %q: %w", column, err)
	}
	return int(f), nil
}

// SectionError reports that a requested data section is absent from a file.
type SectionError struct {
	Path    string
	Section string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("star: section %q not found in %s", e.Section, e.Path)
}

// ParseError reports a malformed line inside a located section.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("star: %s:%d: %s", e.Path, e.Line, e.Message)
}

// Read loads the named data section from a file. The empty section name
// matches a bare "data_" block. File-open failures, missing sections and
// malformed rows surface as distinct error types so callers can tell them
// apart.
func Read(path, section string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("star: open %s: %w", path, err)
	}
	defer f.Close()

	want := "data_" + section
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	inSection := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == want {
			inSection = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("star: read %s: %w", path, err)
	}
	if !inSection {
		return nil, &SectionError{Path: path, Section: section}
	}
	return readSectionBody(path, scanner, &lineNo)
}

// readSectionBody consumes the lines following a data_ header. It handles
// both loop_ tables and key-value single-row blocks, stopping at the next
// data_ header or EOF.
func readSectionBody(path string, scanner *bufio.Scanner, lineNo *int) (*Table, error) {
	var columns []string
	var rows [][]string
	kvTable := false
	var kvRow []string
	inLoopHeader := false
	started := false

	for scanner.Scan() {
		*lineNo++
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "" {
			// A blank line after data rows ends the section. Blank lines
			// before any content are layout only.
			if started && !inLoopHeader && (len(rows) > 0 || kvTable) {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "data_") {
			break
		}
		if line == "loop_" {
			inLoopHeader = true
			started = true
			continue
		}
		if strings.HasPrefix(line, "_") {
			fields := strings.Fields(line)
			name := strings.TrimPrefix(fields[0], "_")
			if inLoopHeader {
				if len(fields) > 1 && !strings.HasPrefix(fields[1], "#") {
					return nil, &ParseError{Path: path, Line: *lineNo, Message: "value on loop_ column header line"}
				}
				columns = append(columns, name)
				continue
			}
			// Key-value form: "_name value".
			if len(fields) < 2 {
				return nil, &ParseError{Path: path, Line: *lineNo, Message: fmt.Sprintf("no value for key %q", fields[0])}
			}
			kvTable = true
			started = true
			columns = append(columns, name)
			kvRow = append(kvRow, strings.Join(fields[1:], " "))
			continue
		}
		if inLoopHeader {
			inLoopHeader = false
		}
		if kvTable {
			return nil, &ParseError{Path: path, Line: *lineNo, Message: "data row inside key-value block"}
		}
		if len(columns) == 0 {
			return nil, &ParseError{Path: path, Line: *lineNo, Message: "data row before any column header"}
		}
		fields := strings.Fields(line)
		if len(fields) != len(columns) {
			return nil, &ParseError{
				Path: path, Line: *lineNo,
				Message: fmt.Sprintf("row has %d values, expected %d", len(fields), len(columns)),
			}
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("star: read %s: %w", path, err)
	}

	t := NewTable(columns...)
	if kvTable {
		t.rows = append(t.rows, kvRow)
	} else {
		t.rows = rows
	}
	return t, nil
}
