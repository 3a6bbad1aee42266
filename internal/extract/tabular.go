package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Tabular renders CSV and XLSX files row by row. The first unit summarizes
// the table's shape and columns; each data row becomes one unit rendered as
// "row N: col=value; ...".
type Tabular struct {
	// SheetIndex selects the worksheet of XLSX files. Default 0.
	SheetIndex int
}

// Extract implements FormatExtractor.
func (t *Tabular) Extract(ctx context.Context, path string) (*Document, error) {
	var (
		rows   [][]string
		method string
		err    error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") || isZip(path) {
		rows, err = t.readXLSX(path)
		method = "xlsx"
	} else {
		rows, err = readCSV(ctx, path)
		method = "csv"
	}
	if err != nil {
		return nil, err
	}
	return &Document{Method: method, Units: renderRows(rows)}, nil
}

func readCSV(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func (t *Tabular) readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if t.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", t.SheetIndex, len(f.Sheets))
	}

	sheet := f.Sheets[t.SheetIndex]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// renderRows treats the first row as the header.
func renderRows(rows [][]string) []Unit {
	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil
	}

	header := rows[0]
	data := rows[1:]
	width := len(header)
	for _, r := range data {
		if len(r) > width {
			width = len(r)
		}
	}
	cols := make([]string, width)
	for i := range cols {
		if i < len(header) && header[i] != "" {
			cols[i] = header[i]
		} else {
			cols[i] = fmt.Sprintf("col%d", i+1)
		}
	}

	units := make([]Unit, 0, len(data)+1)
	units = append(units, Unit{Text: fmt.Sprintf("Data summary: %d rows, %d columns\nColumns: %s",
		len(data), width, strings.Join(cols, ", "))})

	for i, r := range data {
		var sb strings.Builder
		fmt.Fprintf(&sb, "row %d:", i+1)
		first := true
		for j, v := range r {
			if v == "" {
				continue
			}
			if !first {
				sb.WriteString(";")
			}
			first = false
			fmt.Fprintf(&sb, " %s=%s", cols[j], v)
		}
		units = append(units, Unit{Text: sb.String(), Row: i + 1})
	}
	return units
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, r := range rows {
		for _, v := range r {
			if v != "" {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// isZip reports whether the file starts with a zip signature, which is how
// an XLSX declared without its extension looks.
func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	sig := make([]byte, 4)
	if _, err := io.ReadFull(f, sig); err != nil {
		return false
	}
	return string(sig) == "PK\x03\x04"
}
