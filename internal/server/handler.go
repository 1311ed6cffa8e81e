package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/ginjaninja78/gridsubmit/internal/validation"
	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

// sampleSize is the number of records echoed back by process-excel.
const sampleSize = 5

// ExcelRow is one validated spreadsheet record.
type ExcelRow struct {
	Description string  `json:"description"`
	Quantity    int64   `json:"quantity"`
	Value       float64 `json:"value"`
}

// ExcelSubmission is a validated process-excel body.
type ExcelSubmission struct {
	FileName      string              `json:"fileName"`
	SkipRows      int                 `json:"skipRows"`
	Columns       types.ColumnHeaders `json:"columns"`
	ColumnIndices types.ColumnMapping `json:"columnIndices"`
	Data          []ExcelRow          `json:"data"`
}

// Confirmation is a validated confirm-data body.
type Confirmation struct {
	Data        []any  `json:"data"`
	Description string `json:"description"`
}

var fieldNames = validation.Schema{
	{Name: "description", Type: validation.TypeString, Required: true},
	{Name: "quantity", Type: validation.TypeString, Required: true},
	{Name: "value", Type: validation.TypeString, Required: true},
}

var fieldIndices = validation.Schema{
	{Name: "description", Type: validation.TypeInteger, Required: true, Min: validation.MinValue(0)},
	{Name: "quantity", Type: validation.TypeInteger, Required: true, Min: validation.MinValue(0)},
	{Name: "value", Type: validation.TypeInteger, Required: true, Min: validation.MinValue(0)},
}

var excelRowSchema = validation.Schema{
	{Name: "description", Type: validation.TypeString, Required: true},
	{Name: "quantity", Type: validation.TypeInteger, Required: true},
	{Name: "value", Type: validation.TypeDecimal, Required: true},
}

var excelSchema = validation.Schema{
	{Name: "fileName", Type: validation.TypeString, Required: true},
	{Name: "skipRows", Type: validation.TypeInteger, Required: true, Min: validation.MinValue(0)},
	{Name: "columns", Type: validation.TypeObject, Required: true, Fields: fieldNames},
	{Name: "columnIndices", Type: validation.TypeObject, Required: true, Fields: fieldIndices},
	{Name: "data", Type: validation.TypeObjects, Required: true, Fields: excelRowSchema},
}

var confirmSchema = validation.Schema{
	{Name: "data", Type: validation.TypeList, Required: true},
	{Name: "description", Type: validation.TypeString, Required: true},
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	logger  *slog.Logger
	excel   *validation.Validator
	confirm *validation.Validator
}

// NewHandler creates a new HTTP handler
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		logger:  logger,
		excel:   validation.NewValidator(excelSchema),
		confirm: validation.NewValidator(confirmSchema),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gridsubmit-receiver",
	})
}

// ConfirmData accepts a pasted table and its description.
func (h *Handler) ConfirmData(c *gin.Context) {
	var body Confirmation
	if !h.bind(c, h.confirm, &body) {
		return
	}

	h.logger.Info("confirm-data received", "rows", len(body.Data), "description", body.Description, "id", requestID(c))
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    "Data received successfully",
		"rows_count": len(body.Data),
		"id":         requestID(c),
	})
}

// ProcessExcel accepts mapped spreadsheet records.
func (h *Handler) ProcessExcel(c *gin.Context) {
	var body ExcelSubmission
	if !h.bind(c, h.excel, &body) {
		return
	}

	sample := body.Data
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	h.logger.Info("process-excel received", "file", body.FileName, "skip_rows", body.SkipRows, "rows", len(body.Data), "id", requestID(c))
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     "Excel file processed successfully",
		"fileName":    body.FileName,
		"skipRows":    body.SkipRows,
		"rows_count":  len(body.Data),
		"columns":     body.Columns,
		"sample_data": sample,
		"id":          requestID(c),
	})
}

// bind reads, validates and decodes the body. On failure it writes a 422
// with a plain-text explanation and returns false.
func (h *Handler) bind(c *gin.Context, v *validation.Validator, target any) bool {
	doc, err := readJSON(c)
	if err == nil {
		err = v.Decode(doc, target)
	}
	if err == nil {
		return true
	}

	var result *validation.ValidationResult
	if errors.As(err, &result) {
		h.logger.Warn("rejected submission", "path", c.FullPath(), "errors", len(result.Errors))
	}
	c.String(http.StatusUnprocessableEntity, err.Error())
	return false
}

func readJSON(c *gin.Context) (any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return doc, nil
}

func requestID(c *gin.Context) string {
	if id := c.GetString(RequestIDHeader); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(RequestIDHeader, id)
	return id
}
