// =============================================================================
// gridsubmit - Column Mapper
// =============================================================================
//
// This module re-shapes a Grid into canonical records. The user picks, for
// each semantic field (description, value, quantity), which column carries
// it; the mapper projects every data row onto those three columns.
//
// PIPELINE:
//   1. ApplySkip     : drop the leading rows above the header
//   2. DeriveColumns : offer one selectable option per header cell
//   3. Validate      : the three indices must be chosen and distinct
//   4. Project       : one record per row after the header
//
// All functions are pure: grids and mappings are never mutated in place.
//
// =============================================================================

package mapper

import (
	"errors"
	"fmt"

	"github.com/ginjaninja78/gridsubmit/internal/types"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSkipOutOfRange is returned when the skip offset is negative or not
	// below the row count.
	ErrSkipOutOfRange = errors.New("skip offset out of range")

	// ErrIncompleteMapping is returned when a field has no column.
	ErrIncompleteMapping = errors.New("incomplete column mapping")

	// ErrDuplicateColumns is returned when two fields share a column.
	ErrDuplicateColumns = errors.New("duplicate columns in mapping")

	// ErrColumnOutOfRange is returned when a column lies past the header row.
	ErrColumnOutOfRange = errors.New("column out of range")
)

// MappingError reports which field a mapping problem concerns.
type MappingError struct {
	Field types.Field
	Index int
	Err   error
}

func (e *MappingError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (column %d): %v", e.Field, e.Index, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// =============================================================================
// COLUMN OPTIONS
// =============================================================================

// ColumnOption is one selectable column.
type ColumnOption struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// ColumnLabel returns the display label of a header cell. A blank header is
// labeled positionally ("Column N", 1-based) so it stays selectable.
func ColumnLabel(header types.Value, index int) string {
	if types.IsBlank(header) {
		return fmt.Sprintf("Column %d", index+1)
	}
	return types.Text(header)
}

// DeriveColumns returns one option per cell of the grid's header row.
func DeriveColumns(grid types.Grid) []ColumnOption {
	header := grid.Header()
	options := make([]ColumnOption, len(header))
	for i, cell := range header {
		options[i] = ColumnOption{Index: i, Label: ColumnLabel(cell, i)}
	}
	return options
}

// ApplySkip re-slices the grid so that row skip becomes the header row.
//
// PARAMETERS:
//   - full: The grid as extracted, before any skip.
//   - skip: The number of leading rows to discard.
//
// RETURNS:
//   - The skip-adjusted grid (sharing rows with full) and its column options.
//   - ErrSkipOutOfRange if skip < 0 or skip >= full.RowCount().
func ApplySkip(full types.Grid, skip int) (types.Grid, []ColumnOption, error) {
	if skip < 0 || skip >= full.RowCount() {
		return nil, nil, fmt.Errorf("%w: %d of %d rows", ErrSkipOutOfRange, skip, full.RowCount())
	}
	grid := full[skip:len(full):len(full)]
	return grid, DeriveColumns(grid), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks a mapping against a header of the given width. A negative
// width skips the range check.
//
// Checks run in order: duplicates among chosen columns, then missing fields,
// then range.
func Validate(m types.ColumnMapping, width int) error {
	seen := make(map[int]types.Field, len(types.Fields))
	for _, f := range types.Fields {
		idx := m.Index(f)
		if idx < 0 {
			continue
		}
		if other, dup := seen[idx]; dup {
			return &MappingError{Field: f, Index: idx, Err: fmt.Errorf("%w: shared with %s", ErrDuplicateColumns, other)}
		}
		seen[idx] = f
	}

	for _, f := range types.Fields {
		if idx := m.Index(f); idx < 0 {
			return &MappingError{Field: f, Index: idx, Err: ErrIncompleteMapping}
		}
	}

	if width >= 0 {
		for _, f := range types.Fields {
			if idx := m.Index(f); idx >= width {
				return &MappingError{Field: f, Index: idx, Err: ErrColumnOutOfRange}
			}
		}
	}
	return nil
}

// SubmitEnabled reports whether a mapping is complete and free of
// duplicates. It does not look at any grid.
func SubmitEnabled(m types.ColumnMapping) bool {
	return Validate(m, -1) == nil
}

// =============================================================================
// PROJECTION
// =============================================================================

// Project applies skip to the full grid and projects every row after the
// header onto the mapped columns.
func Project(full types.Grid, skip int, m types.ColumnMapping) ([]types.CanonicalRecord, error) {
	grid, _, err := ApplySkip(full, skip)
	if err != nil {
		return nil, err
	}
	return ProjectRows(grid, m)
}

// ProjectRows projects an already skip-adjusted grid. Row 0 is the header and
// produces no record. Cells past the end of a short row read as nil.
func ProjectRows(grid types.Grid, m types.ColumnMapping) ([]types.CanonicalRecord, error) {
	if err := Validate(m, grid.Width()); err != nil {
		return nil, err
	}

	records := make([]types.CanonicalRecord, 0, max(grid.RowCount()-1, 0))
	for r := 1; r < grid.RowCount(); r++ {
		records = append(records, types.CanonicalRecord{
			Description: grid.Cell(r, m.Description),
			Value:       grid.Cell(r, m.Value),
			Quantity:    grid.Cell(r, m.Quantity),
		})
	}
	return records, nil
}

// BuildPayload assembles the process-excel document for a file upload.
//
// PARAMETERS:
//   - fileName: The uploaded file's name.
//   - full: The grid before skip.
//   - skip: The skip offset chosen by the user.
//   - m: The column mapping, relative to the skip-adjusted grid.
func BuildPayload(fileName string, full types.Grid, skip int, m types.ColumnMapping) (*types.SubmissionPayload, error) {
	grid, _, err := ApplySkip(full, skip)
	if err != nil {
		return nil, err
	}
	records, err := ProjectRows(grid, m)
	if err != nil {
		return nil, err
	}

	header := grid.Header()
	headerText := func(idx int) string {
		if idx < len(header) {
			return types.Text(header[idx])
		}
		return ""
	}

	return &types.SubmissionPayload{
		FileName: fileName,
		SkipRows: skip,
		Columns: types.ColumnHeaders{
			Description: headerText(m.Description),
			Value:       headerText(m.Value),
			Quantity:    headerText(m.Quantity),
		},
		ColumnIndices: m,
		Data:          records,
	}, nil
}
