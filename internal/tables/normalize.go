package tables

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spherical/doc-ingest/internal/domain"
)

// RawTable is a detected cell grid before header inference. Page is nil
// when the detector cannot attribute the table to a page.
type RawTable struct {
	Page  *int
	Cells [][]string
}

// Normalize infers headers and converts grids into header-keyed rows.
// Grids with no non-empty row are skipped; indexes count emitted tables.
func Normalize(raw []RawTable) []domain.Table {
	out := make([]domain.Table, 0, len(raw))
	for _, rt := range raw {
		rows := nonEmptyRows(rt.Cells)
		if len(rows) == 0 {
			continue
		}

		width := 0
		for _, r := range rows {
			if len(r) > width {
				width = len(r)
			}
		}

		var columns []string
		data := rows
		if headerless(rows[0]) {
			columns = positionalColumns(width)
		} else {
			columns = headerColumns(rows[0], width)
			data = rows[1:]
		}

		records := make([]map[string]string, 0, len(data))
		for _, r := range data {
			rec := make(map[string]string, len(columns))
			for i, col := range columns {
				v := ""
				if i < len(r) {
					v = r[i]
				}
				rec[col] = v
			}
			records = append(records, rec)
		}

		var page *int
		if rt.Page != nil {
			p := *rt.Page
			page = &p
		}
		out = append(out, domain.Table{
			TableIndex: len(out),
			SourcePage: page,
			Columns:    columns,
			Rows:       records,
			RowCount:   len(records),
		})
	}
	return out
}

// nonEmptyRows trims every cell and drops rows with no content.
func nonEmptyRows(cells [][]string) [][]string {
	rows := make([][]string, 0, len(cells))
	for _, r := range cells {
		trimmed := make([]string, len(r))
		empty := true
		for i, c := range r {
			trimmed[i] = strings.Join(strings.Fields(c), " ")
			if trimmed[i] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, trimmed)
		}
	}
	return rows
}

// headerless reports whether the first row looks like data: every
// non-empty cell is numeric.
func headerless(first []string) bool {
	seen := false
	for _, c := range first {
		if c == "" {
			continue
		}
		seen = true
		if !isNumeric(c) {
			return false
		}
	}
	return seen
}

func isNumeric(s string) bool {
	s = strings.NewReplacer(",", "", "%", "", "$", "", "€", "", "£", "").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func positionalColumns(width int) []string {
	cols := make([]string, width)
	for i := range cols {
		cols[i] = fmt.Sprintf("column_%d", i)
	}
	return cols
}

// headerColumns names columns from the first row. Empty cells take their
// positional name and repeated names get _2, _3 suffixes.
func headerColumns(first []string, width int) []string {
	cols := make([]string, width)
	used := make(map[string]bool, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(first) {
			name = first[i]
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		if used[name] {
			base := name
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", base, n)
				if !used[candidate] {
					name = candidate
					break
				}
			}
		}
		used[name] = true
		cols[i] = name
	}
	return cols
}
