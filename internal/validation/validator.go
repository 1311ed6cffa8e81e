// =============================================================================
// gridsubmit - Validation Engine
// =============================================================================
//
// This module validates decoded JSON documents against a small schema and
// coerces their values to the declared types. The receiver uses it to check
// submissions before acknowledging them.
//
// VALIDATION STRATEGY:
//   Validation is performed field by field, recursing into objects and
//   lists of objects:
//   1. Presence: a required field must exist and not be null
//   2. Type: the value must be (or convert to) the declared data type
//   3. Range: optional lower bound for numbers
//
// COERCION:
//   | Declared type | Accepted JSON values                           | Result  |
//   |---------------|------------------------------------------------|---------|
//   | string        | string                                         | string  |
//   | integer       | integral number, string holding an integer     | int64   |
//   | decimal       | number, string holding a number                | float64 |
//   | list          | array                                          | []any   |
//   | object        | object (validated against a nested schema)     | map     |
//   | objects       | array of objects (each validated)              | []any   |
//
// ERROR HANDLING:
//   - Errors are collected, not returned on the first failure
//   - Each error carries the dotted path of the offending value
//     (e.g. "data.3.quantity")
//
// =============================================================================

package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation error.
type ValidationError struct {
	// Field is the dotted path of the value that failed validation.
	Field string

	// Value is the offending value as text. Empty for missing fields.
	Value string

	// Rule is the validation rule that was violated.
	// "required", "type" or "min"
	Rule string

	// Message is a human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("Field '%s': %s", e.Field, e.Message)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if there are no errors.
	IsValid bool

	// Errors contains all validation errors.
	Errors []*ValidationError

	// FieldsValidated is the total number of fields visited.
	FieldsValidated int
}

// Error joins every message, one per line.
func (r *ValidationResult) Error() string {
	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = e.Error()
	}
	return strings.Join(lines, "\n")
}

// Err returns the result as an error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return r
}

// =============================================================================
// SCHEMA
// =============================================================================

// DataType is the declared type of a field.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeDecimal DataType = "decimal"
	TypeList    DataType = "list"
	TypeObject  DataType = "object"
	TypeObjects DataType = "objects"
)

// FieldRule declares one field of an object.
type FieldRule struct {
	Name     string
	Type     DataType
	Required bool

	// Min is an inclusive lower bound for integer and decimal fields.
	Min *float64

	// Fields is the nested schema of object and objects fields.
	Fields Schema
}

// Schema is an ordered list of field rules. Fields not in the schema are
// dropped from the coerced output.
type Schema []FieldRule

// MinValue returns a pointer for FieldRule.Min.
func MinValue(v float64) *float64 {
	return &v
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator validates documents against one schema.
type Validator struct {
	schema Schema
}

// NewValidator creates a new Validator instance.
func NewValidator(schema Schema) *Validator {
	return &Validator{schema: schema}
}

// Validate checks a decoded JSON object and returns its coerced copy.
//
// PARAMETERS:
//   - doc: The decoded document. Numbers may be float64 or json.Number.
//
// RETURNS:
//   - The coerced document, holding only schema fields. It is nil when the
//     result is invalid.
//   - The validation result.
func (v *Validator) Validate(doc any) (map[string]any, *ValidationResult) {
	result := &ValidationResult{IsValid: true}

	obj, ok := doc.(map[string]any)
	if !ok {
		result.add(&ValidationError{Field: "body", Value: describe(doc), Rule: "type", Message: "Input should be a valid object"})
		return nil, result
	}

	out := v.validateObject(obj, v.schema, "", result)
	if !result.IsValid {
		return nil, result
	}
	return out, result
}

// Decode validates a document and decodes its coerced form into target.
func (v *Validator) Decode(doc any, target any) error {
	out, result := v.Validate(doc)
	if err := result.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to re-encode document: %w", err)
	}
	return json.Unmarshal(data, target)
}

func (r *ValidationResult) add(err *ValidationError) {
	r.Errors = append(r.Errors, err)
	r.IsValid = false
}

func (v *Validator) validateObject(obj map[string]any, schema Schema, prefix string, result *ValidationResult) map[string]any {
	out := make(map[string]any, len(schema))
	for _, rule := range schema {
		path := join(prefix, rule.Name)
		raw, present := obj[rule.Name]
		result.FieldsValidated++

		if !present || raw == nil {
			if rule.Required {
				result.add(&ValidationError{Field: path, Rule: "required", Message: "Field required"})
			}
			continue
		}

		if value, ok := v.validateField(raw, rule, path, result); ok {
			out[rule.Name] = value
		}
	}
	return out
}

// validateField coerces one value. The bool reports whether a value was
// produced.
func (v *Validator) validateField(raw any, rule FieldRule, path string, result *ValidationResult) (any, bool) {
	typeErr := func(msg string) (any, bool) {
		result.add(&ValidationError{Field: path, Value: describe(raw), Rule: "type", Message: msg})
		return nil, false
	}

	switch rule.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return typeErr("Input should be a valid string")
		}
		return s, true

	case TypeInteger:
		n, msg := coerceInteger(raw)
		if msg != "" {
			return typeErr(msg)
		}
		if !checkMin(float64(n), rule, path, raw, result) {
			return nil, false
		}
		return n, true

	case TypeDecimal:
		f, msg := coerceDecimal(raw)
		if msg != "" {
			return typeErr(msg)
		}
		if !checkMin(f, rule, path, raw, result) {
			return nil, false
		}
		return f, true

	case TypeList:
		list, ok := raw.([]any)
		if !ok {
			return typeErr("Input should be a valid list")
		}
		return list, true

	case TypeObject:
		obj, ok := raw.(map[string]any)
		if !ok {
			return typeErr("Input should be a valid object")
		}
		return v.validateObject(obj, rule.Fields, path, result), true

	case TypeObjects:
		list, ok := raw.([]any)
		if !ok {
			return typeErr("Input should be a valid list")
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			itemPath := join(path, strconv.Itoa(i))
			obj, ok := item.(map[string]any)
			if !ok {
				result.add(&ValidationError{Field: itemPath, Value: describe(item), Rule: "type", Message: "Input should be a valid object"})
				continue
			}
			out = append(out, v.validateObject(obj, rule.Fields, itemPath, result))
		}
		return out, true

	default:
		// Unknown type, pass through.
		return raw, true
	}
}

func checkMin(n float64, rule FieldRule, path string, raw any, result *ValidationResult) bool {
	if rule.Min == nil || n >= *rule.Min {
		return true
	}
	result.add(&ValidationError{
		Field:   path,
		Value:   describe(raw),
		Rule:    "min",
		Message: fmt.Sprintf("Input should be greater than or equal to %s", strconv.FormatFloat(*rule.Min, 'f', -1, 64)),
	})
	return false
}

// =============================================================================
// DATA TYPE COERCION
// =============================================================================

// coerceInteger accepts integral numbers and integer strings.
func coerceInteger(raw any) (int64, string) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, ""
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Sprintf("Value '%s' is not a valid integer", v)
		}
		return integral(f, v.String())
	case float64:
		return integral(v, strconv.FormatFloat(v, 'f', -1, 64))
	case int:
		return int64(v), ""
	case int64:
		return v, ""
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, ""
		}
		return 0, fmt.Sprintf("Value '%s' is not a valid integer", v)
	default:
		return 0, "Input should be a valid integer"
	}
}

func integral(f float64, text string) (int64, string) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Sprintf("Value '%s' is not a valid integer", text)
	}
	return int64(f), ""
}

// coerceDecimal accepts numbers and numeric strings.
func coerceDecimal(raw any) (float64, string) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Sprintf("Value '%s' is not a valid decimal number", v)
		}
		return f, ""
	case float64:
		return v, ""
	case int:
		return float64(v), ""
	case int64:
		return float64(v), ""
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Sprintf("Value '%s' is not a valid decimal number", v)
		}
		return f, ""
	default:
		return 0, "Input should be a valid number"
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%v", x)
	}
}
