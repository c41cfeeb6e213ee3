// Package csvio reads uploaded CSV files into header-keyed tables and writes
// merged and Top-N results back out as CSV or XLSX.
package csvio

// Table is a parsed CSV file: one header row plus data rows. Rows may be
// shorter or longer than the header.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// NewTable builds a Table. When a header name repeats, lookups by name see
// the left-most column.
func NewTable(header []string, rows [][]string) *Table {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	return &Table{Header: header, Rows: rows, index: index}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the position of the named column or -1.
func (t *Table) Column(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Value returns the named cell of a row. ok is false when the column is
// absent or the row is too short to hold it.
func (t *Table) Value(row int, name string) (string, bool) {
	return t.At(row, t.Column(name))
}

// At returns a cell by position.
func (t *Table) At(row, col int) (string, bool) {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return "", false
	}
	fields := t.Rows[row]
	if col >= len(fields) {
		return "", false
	}
	return fields[col], true
}

// Without returns a copy of t with the data row at index removed. An index
// outside the rows leaves the copy unchanged.
func (t *Table) Without(index int) *Table {
	if index < 0 || index >= len(t.Rows) {
		return NewTable(t.Header, t.Rows)
	}
	rows := make([][]string, 0, len(t.Rows)-1)
	rows = append(rows, t.Rows[:index]...)
	rows = append(rows, t.Rows[index+1:]...)
	return NewTable(t.Header, rows)
}
