package ingest

import (
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExcelDecoder reads .xlsx workbooks using the first sheet only, with the
// first row as the header row. It performs no business validation; rows
// that decode but carry bad data are the validator's problem.
type ExcelDecoder struct{}

// Decode opens the workbook at path and returns one RawRow per data row,
// in sheet order. Cell values keep their native type where the formatted
// value distinguishes one: integers decode as int64, decimals as float64,
// TRUE/FALSE cells as bool, everything else as string. Empty cells are
// omitted from the row map.
func (ExcelDecoder) Decode(path string) ([]RawRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &DecodeError{Reason: "not a readable xlsx workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &DecodeError{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &DecodeError{Reason: "failed to read sheet " + strconv.Quote(sheets[0]), Err: err}
	}
	if len(rows) == 0 {
		return nil, &DecodeError{Reason: "sheet is empty"}
	}

	header := make([]string, len(rows[0]))
	blank := true
	for i, cell := range rows[0] {
		header[i] = strings.TrimSpace(cell)
		if header[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, &DecodeError{Reason: "missing header row"}
	}

	out := make([]RawRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		raw := make(RawRow)
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || cell == "" {
				continue
			}
			raw[header[i]] = parseCell(cell)
		}
		out = append(out, raw)
	}

	return out, nil
}

// parseCell converts a formatted cell value to its most specific type.
func parseCell(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	// excelize renders boolean cells as TRUE/FALSE
	switch s {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return s
}
