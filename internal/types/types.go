// =============================================================================
// gridsubmit - Shared Types
// =============================================================================
//
// This package contains the data model shared by the extractors, the column
// mapper, the session and the submission client. Keeping it here avoids
// import cycles between those packages.
//
// DATA FLOW:
//   raw input -> Grid -> []CanonicalRecord -> SubmissionPayload
//
// =============================================================================

package types

import (
	"strconv"
	"strings"
)

// =============================================================================
// GRID TYPES
// =============================================================================

// Value is a single raw cell value. It is one of:
//   - nil     : an empty cell
//   - string  : text
//   - float64 : a number
type Value = any

// Row is an ordered sequence of cell values.
type Row []Value

// Grid is a row-major table of raw cell values.
// Row 0 is the header row unless a skip offset has been applied.
// Rows may be shorter than the header row; missing cells read as nil.
type Grid []Row

// RowCount returns the number of rows, header included.
func (g Grid) RowCount() int {
	return len(g)
}

// Width returns the number of columns in the header row.
func (g Grid) Width() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// Cell returns the value at (row, col), or nil when the position lies
// outside the grid or past the end of a short row.
func (g Grid) Cell(row, col int) Value {
	if row < 0 || row >= len(g) || col < 0 {
		return nil
	}
	if col >= len(g[row]) {
		return nil
	}
	return g[row][col]
}

// Header returns the header row, or nil for an empty grid.
func (g Grid) Header() Row {
	if len(g) == 0 {
		return nil
	}
	return g[0]
}

// Text renders a cell value as text. Empty cells render as "".
// Numbers use the shortest representation that round-trips.
func Text(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// IsBlank reports whether a value is empty or whitespace-only text.
func IsBlank(v Value) bool {
	return strings.TrimSpace(Text(v)) == ""
}

// =============================================================================
// MAPPING TYPES
// =============================================================================

// Unselected marks a mapping field that has no column chosen yet.
const Unselected = -1

// Field names a semantic field of a canonical record.
type Field string

const (
	FieldDescription Field = "description"
	FieldValue       Field = "value"
	FieldQuantity    Field = "quantity"
)

// Fields lists the semantic fields in payload order.
var Fields = []Field{FieldDescription, FieldValue, FieldQuantity}

// ColumnMapping holds the zero-based column index chosen for each field.
// A field set to Unselected has no column yet.
type ColumnMapping struct {
	Description int `json:"description"`
	Value       int `json:"value"`
	Quantity    int `json:"quantity"`
}

// NewColumnMapping returns a mapping with every field unselected.
func NewColumnMapping() ColumnMapping {
	return ColumnMapping{
		Description: Unselected,
		Value:       Unselected,
		Quantity:    Unselected,
	}
}

// Index returns the column chosen for a field.
func (m ColumnMapping) Index(f Field) int {
	switch f {
	case FieldDescription:
		return m.Description
	case FieldValue:
		return m.Value
	case FieldQuantity:
		return m.Quantity
	default:
		return Unselected
	}
}

// With returns a copy of the mapping with one field set to index.
func (m ColumnMapping) With(f Field, index int) ColumnMapping {
	switch f {
	case FieldDescription:
		m.Description = index
	case FieldValue:
		m.Value = index
	case FieldQuantity:
		m.Quantity = index
	}
	return m
}

// =============================================================================
// RECORD AND PAYLOAD TYPES
// =============================================================================

// CanonicalRecord is one normalized row. A field whose column lies past the
// end of a short row stays nil and is omitted from the JSON document.
type CanonicalRecord struct {
	Description Value `json:"description,omitempty"`
	Value       Value `json:"value,omitempty"`
	Quantity    Value `json:"quantity,omitempty"`
}

// ColumnHeaders holds the header text of each mapped column.
type ColumnHeaders struct {
	Description string `json:"description"`
	Value       string `json:"value"`
	Quantity    string `json:"quantity"`
}

// SubmissionPayload is the JSON document sent to the process-excel endpoint.
type SubmissionPayload struct {
	FileName      string            `json:"fileName"`
	SkipRows      int               `json:"skipRows"`
	Columns       ColumnHeaders     `json:"columns"`
	ColumnIndices ColumnMapping     `json:"columnIndices"`
	Data          []CanonicalRecord `json:"data"`
}

// ConfirmPayload is the JSON document sent to the confirm-data endpoint by
// the clipboard flow.
type ConfirmPayload struct {
	Data        Grid   `json:"data"`
	Description string `json:"description"`
}

// ServerAck is the decoded acknowledgment body returned by the backend.
type ServerAck map[string]any
