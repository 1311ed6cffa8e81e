// =============================================================================
// gridsubmit - XLSX Workbook Parser
// =============================================================================
//
// This module turns an uploaded spreadsheet into a Grid. Decoding is
// delegated to excelize; this package only validates the upload, selects the
// first sheet and converts it positionally.
//
// POSITIONAL CONVERSION:
//   Row 0 of the grid is always the first row of the sheet, whatever it
//   contains. No header keying happens here; the column mapper decides which
//   row is the header (see the skip offset).
//
//   | Cell type in the sheet     | Grid value |
//   |----------------------------|------------|
//   | number, date, unset        | float64    |
//   | shared/inline string       | string     |
//   | formula with string result | string     |
//   | bool, error                | string     |
//   | empty                      | nil        |
//
// =============================================================================

package xlsxparser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/ginjaninja78/gridsubmit/pkg/utils"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidFormat indicates the upload is not a spreadsheet excelize
	// can decode.
	ErrInvalidFormat = errors.New("invalid spreadsheet format")

	// ErrEmptyFile indicates the first sheet has no rows.
	ErrEmptyFile = errors.New("empty spreadsheet")
)

// ExtractionError wraps a sentinel with the file and sheet it relates to.
type ExtractionError struct {
	FileName string
	Sheet    string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("%s (sheet %q): %v", e.FileName, e.Sheet, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ACCEPTED FORMATS
// =============================================================================

const (
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMETypeXLS  = "application/vnd.ms-excel"
)

var acceptedTypes = map[string]bool{
	MIMETypeXLSX: true,
	MIMETypeXLS:  true,
}

var acceptedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
}

// Accepts reports whether an upload looks like a spreadsheet. Either the
// declared content type or the file extension is enough.
func Accepts(fileName, contentType string) bool {
	if acceptedTypes[strings.ToLower(strings.TrimSpace(contentType))] {
		return true
	}
	return acceptedExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// =============================================================================
// WORKBOOK
// =============================================================================

// Workbook is a decoded spreadsheet. Sheets are converted on demand.
type Workbook struct {
	f *excelize.File

	// SheetNames lists the sheets in workbook order.
	SheetNames []string
}

// Decode opens an in-memory workbook.
//
// RETURNS:
//   - The decoded workbook; the caller must Close it.
//   - ErrInvalidFormat (wrapped) when excelize cannot read the bytes.
func Decode(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	names := f.GetSheetList()
	if len(names) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFormat)
	}

	return &Workbook{f: f, SheetNames: names}, nil
}

// Close releases the underlying workbook.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// FirstSheet converts the first sheet of the workbook.
func (w *Workbook) FirstSheet() (string, types.Grid, error) {
	name := w.SheetNames[0]
	grid, err := w.Sheet(name)
	return name, grid, err
}

// Sheet converts the named sheet into a Grid, positionally.
func (w *Workbook) Sheet(name string) (types.Grid, error) {
	rows, err := w.f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	grid := make(types.Grid, 0, len(rows))
	for r, row := range rows {
		out := make(types.Row, len(row))
		for c, raw := range row {
			out[c] = w.cellValue(name, r, c, raw)
		}
		grid = append(grid, out)
	}
	return grid, nil
}

// cellValue types a raw cell string using the cell's stored type.
func (w *Workbook) cellValue(sheet string, row, col int, raw string) types.Value {
	if raw == "" {
		return nil
	}

	cellName, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return raw
	}
	cellType, err := w.f.GetCellType(sheet, cellName)
	if err != nil {
		return raw
	}

	switch cellType {
	case excelize.CellTypeNumber, excelize.CellTypeDate, excelize.CellTypeUnset:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Result is the outcome of a file extraction.
type Result struct {
	FileName   string
	SheetName  string
	SheetNames []string
	Grid       types.Grid
}

// Extract validates an upload, reads it asynchronously, decodes it and
// converts its first sheet.
//
// PARAMETERS:
//   - ctx: Cancels the read. Decoding starts only after the read completes.
//   - fileName: The declared file name.
//   - contentType: The declared MIME type; may be empty.
//   - r: The file content.
//
// RETURNS:
//   - The first-sheet grid.
//   - An *ExtractionError wrapping ErrInvalidFormat or ErrEmptyFile, or the
//     read error.
func Extract(ctx context.Context, fileName, contentType string, r io.Reader) (*Result, error) {
	if !Accepts(fileName, contentType) {
		return nil, &ExtractionError{FileName: fileName, Err: ErrInvalidFormat}
	}

	res := <-utils.ReadAsync(ctx, r)
	if res.Err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, res.Err)
	}

	wb, err := Decode(res.Data)
	if err != nil {
		return nil, &ExtractionError{FileName: fileName, Err: err}
	}
	defer wb.Close()

	sheet, grid, err := wb.FirstSheet()
	if err != nil {
		return nil, &ExtractionError{FileName: fileName, Sheet: sheet, Err: err}
	}
	if len(grid) == 0 {
		return nil, &ExtractionError{FileName: fileName, Sheet: sheet, Err: ErrEmptyFile}
	}

	return &Result{
		FileName:   fileName,
		SheetName:  sheet,
		SheetNames: wb.SheetNames,
		Grid:       grid,
	}, nil
}
