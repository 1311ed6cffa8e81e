package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ginjaninja78/gridsubmit/internal/config"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setupTestRouter() *gin.Engine {
	cfg := config.Default()
	cfg.Server.Environment = "test"
	cfg.Server.AllowedOrigins = []string{"http://localhost:*", "https://app.example.test"}
	return SetupRouter(cfg, NewHandler(nil))
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"gridsubmit-receiver"}`, w.Body.String())
}

func TestConfirmData(t *testing.T) {
	router := setupTestRouter()

	w := post(router, "/api/confirm-data", `{"data":[["Item","Valor"],["Pneu",null]],"description":"Pesquisa"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ack map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, float64(2), ack["rows_count"])
	_, err := uuid.Parse(ack["id"].(string))
	assert.NoError(t, err)
	assert.Equal(t, ack["id"], w.Header().Get(RequestIDHeader))
}

func TestConfirmData_Invalid(t *testing.T) {
	router := setupTestRouter()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing description", `{"data":[]}`, "Field 'description': Field required"},
		{"data not a list", `{"data":{},"description":"x"}`, "Field 'data'"},
		{"malformed json", `{"data":`, "invalid JSON body"},
		{"not an object", `[]`, "Field 'body'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, "/api/confirm-data", tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

const excelBody = `{
	"fileName": "compras.xlsx",
	"skipRows": 1,
	"columns": {"description": "Item", "value": "Valor", "quantity": "Qtd"},
	"columnIndices": {"description": 0, "value": 1, "quantity": 2},
	"data": [
		{"description": "A", "value": 1.5, "quantity": 1},
		{"description": "B", "value": "2", "quantity": "2"},
		{"description": "C", "value": 3, "quantity": 3.0},
		{"description": "D", "value": 4, "quantity": 4},
		{"description": "E", "value": 5, "quantity": 5},
		{"description": "F", "value": 6, "quantity": 6}
	]
}`

func TestProcessExcel(t *testing.T) {
	router := setupTestRouter()

	w := post(router, "/api/process-excel", excelBody)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ack struct {
		Status     string              `json:"status"`
		FileName   string              `json:"fileName"`
		SkipRows   int                 `json:"skipRows"`
		RowsCount  int                 `json:"rows_count"`
		Columns    types.ColumnHeaders `json:"columns"`
		SampleData []ExcelRow          `json:"sample_data"`
		ID         string              `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))

	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, "compras.xlsx", ack.FileName)
	assert.Equal(t, 1, ack.SkipRows)
	assert.Equal(t, 6, ack.RowsCount)
	assert.Equal(t, types.ColumnHeaders{Description: "Item", Value: "Valor", Quantity: "Qtd"}, ack.Columns)
	require.Len(t, ack.SampleData, sampleSize)
	assert.Equal(t, ExcelRow{Description: "B", Quantity: 2, Value: 2}, ack.SampleData[1])
	assert.NotEmpty(t, ack.ID)
}

func TestProcessExcel_Invalid(t *testing.T) {
	router := setupTestRouter()

	body := strings.Replace(excelBody, `"quantity": 4}`, `"quantity": 4.5}`, 1)
	body = strings.Replace(body, `"skipRows": 1`, `"skipRows": -1`, 1)

	w := post(router, "/api/process-excel", body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Field 'skipRows'")
	assert.Contains(t, w.Body.String(), "Field 'data.3.quantity': Value '4.5' is not a valid integer")
}

func TestProcessExcel_KeepsCallerRequestID(t *testing.T) {
	router := setupTestRouter()
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/api/process-excel", strings.NewReader(excelBody))
	req.Header.Set(RequestIDHeader, id)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, id, ack["id"])
}

// The submission client and the receiver agree on the wire format.
func TestClientAgainstReceiver(t *testing.T) {
	srv := httptest.NewServer(setupTestRouter())
	defer srv.Close()

	client := submit.NewClient(submit.Config{BaseURL: srv.URL}, nil)

	ack, err := client.ProcessExcel(context.Background(), &types.SubmissionPayload{
		FileName:      "compras.xlsx",
		Columns:       types.ColumnHeaders{Description: "Item", Value: "Valor", Quantity: "Qtd"},
		ColumnIndices: types.ColumnMapping{Description: 0, Value: 1, Quantity: 2},
		Data: []types.CanonicalRecord{
			{Description: "Pneu", Value: 10.5, Quantity: float64(2)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), ack["rows_count"])

	_, err = client.ProcessExcel(context.Background(), &types.SubmissionPayload{
		FileName:      "compras.xlsx",
		Columns:       types.ColumnHeaders{Description: "Item", Value: "Valor", Quantity: "Qtd"},
		ColumnIndices: types.ColumnMapping{Description: 0, Value: 1, Quantity: 2},
		Data:          []types.CanonicalRecord{{Description: "Pneu"}},
	})
	assert.ErrorIs(t, err, submit.ErrRejected)
	var subErr *submit.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Contains(t, subErr.Body, "Field 'data.0.quantity': Field required")

	ack, err = client.ConfirmData(context.Background(), &types.ConfirmPayload{
		Data:        types.Grid{{"Item"}, {"Pneu"}},
		Description: "Pesquisa",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(2), ack["rows_count"])
}
