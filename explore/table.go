// Package explore converts grouped exploration rows into rectangular
// tables, the records projection stored on chart specs, and CSV artifacts.
package explore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/araliadata/openrag/aralia"
)

// Table is a rectangular view of an exploration result: x-axis group
// columns followed by one column per y-axis aggregate.
type Table struct {
	Columns []string
	Rows    [][]any
}

// BuildTable flattens exploration rows into a table. Each x group
// contributes its first element; y aggregates follow. Column names come
// from the given labels when their count matches the data, otherwise
// positional x1..xn and value1..valueN names are used.
func BuildTable(rows []aralia.Row, xLabels, yLabels []string) (*Table, error) {
	if len(rows) == 0 {
		return nil, errors.New("exploration returned no rows")
	}

	xWidth := len(rows[0].X)
	yWidth := len(rows[0].Values)

	columns := make([]string, 0, xWidth+yWidth)
	if len(xLabels) == xWidth {
		columns = append(columns, xLabels...)
	} else {
		for i := 0; i < xWidth; i++ {
			columns = append(columns, fmt.Sprintf("x%d", i+1))
		}
	}
	if len(yLabels) == yWidth {
		columns = append(columns, yLabels...)
	} else {
		for i := 0; i < yWidth; i++ {
			columns = append(columns, fmt.Sprintf("value%d", i+1))
		}
	}

	tableRows := make([][]any, 0, len(rows))
	for i, row := range rows {
		combined := make([]any, 0, xWidth+yWidth)
		for j := 0; j < xWidth; j++ {
			if j >= len(row.X) {
				combined = append(combined, nil)
				continue
			}
			group := row.X[j]
			if len(group) == 0 {
				return nil, fmt.Errorf("row %d has an empty x group", i)
			}
			combined = append(combined, group[0])
		}
		for j := 0; j < yWidth; j++ {
			if j >= len(row.Values) {
				combined = append(combined, nil)
				continue
			}
			combined = append(combined, row.Values[j])
		}
		tableRows = append(tableRows, combined)
	}

	return &Table{Columns: columns, Rows: tableRows}, nil
}

// RecordsJSON serializes up to limit rows as an array of column:value
// records, preserving column order. limit <= 0 serializes every row.
func (t *Table) RecordsJSON(limit int) (string, error) {
	n := len(t.Rows)
	if limit > 0 && n > limit {
		n = limit
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range t.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return "", fmt.Errorf("encode column name: %w", err)
			}
			buf.Write(key)
			buf.WriteByte(':')

			var cell any
			if j < len(t.Rows[i]) {
				cell = t.Rows[i][j]
			}
			val, err := json.Marshal(cell)
			if err != nil {
				return "", fmt.Errorf("encode row %d: %w", i, err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}
