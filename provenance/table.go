package provenance

import (
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// A Table is a dataset in tabular form with every cell as text, as it is stored on disk.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// ColumnCount returns the number of columns of the table.
func (t *Table) ColumnCount() int {
	return len(t.Columns)
}

// RowCount returns the number of data rows of the table.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

func (t *Table) validate() error {
	if len(t.Columns) == 0 {
		return xerrors.Errorf("table %q has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c]; dup {
			return xerrors.Errorf("table %q: duplicate column %q", t.Name, c)
		}
		seen[c] = struct{}{}
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return xerrors.Errorf("table %q: row %d has %d cells, want %d", t.Name, i, len(r), len(t.Columns))
		}
		for j, c := range r {
			if !utf8.ValidString(c) {
				return xerrors.Errorf("table %q: row %d column %q is not valid utf-8", t.Name, i, t.Columns[j])
			}
		}
	}
	return nil
}
