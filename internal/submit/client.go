// =============================================================================
// gridsubmit - Submission Client
// =============================================================================
//
// This module sends normalized data to the backend. Each submission is one
// JSON POST:
//   - file flow      : POST {base}/api/process-excel  (SubmissionPayload)
//   - clipboard flow : POST {base}/api/confirm-data   (ConfirmPayload)
//
// A non-2xx response is a Rejected error carrying the status and body. A
// request that never got a response is a Transport error. Nothing is retried.
//
// =============================================================================

package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRejected is matched by every SubmissionError of kind KindRejected.
	ErrRejected = errors.New("submission rejected")

	// ErrTransport is matched by every SubmissionError of kind KindTransport.
	ErrTransport = errors.New("submission transport failure")

	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("a submission is already in flight")
)

// Kind classifies a submission failure.
type Kind string

const (
	KindRejected  Kind = "rejected"
	KindTransport Kind = "transport"
)

// SubmissionError describes a failed submission.
type SubmissionError struct {
	Kind Kind

	// StatusCode, Status and Body are set for rejected submissions.
	StatusCode int
	Status     string
	Body       string

	// Err is the underlying failure for transport errors.
	Err error
}

func (e *SubmissionError) Error() string {
	if e.Kind == KindRejected {
		if e.Body != "" {
			return fmt.Sprintf("backend rejected submission (%s): %s", e.Status, e.Body)
		}
		return fmt.Sprintf("backend rejected submission: %s", e.Status)
	}
	return fmt.Sprintf("failed to reach backend: %v", e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	errs := []error{ErrTransport}
	if e.Kind == KindRejected {
		errs[0] = ErrRejected
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Message returns the text shown to the user: the response body when there
// is one, else the status text, else the transport failure.
func (e *SubmissionError) Message() string {
	switch {
	case e.Kind == KindRejected && e.Body != "":
		return e.Body
	case e.Kind == KindRejected:
		return e.Status
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	DefaultConfirmPath = "/api/confirm-data"
	DefaultProcessPath = "/api/process-excel"

	maxErrorBody = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	ConfirmPath string
	ProcessPath string

	// Timeout bounds each request. Zero means no client-side limit.
	Timeout time.Duration

	// MinInterval spaces consecutive submissions. Zero disables pacing.
	MinInterval time.Duration
}

// Client posts payloads to the backend. At most one request is in flight.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	inFlight   atomic.Bool
	logger     *slog.Logger
}

// NewClient creates a client for the backend at cfg.BaseURL.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ConfirmPath == "" {
		cfg.ConfirmPath = DefaultConfirmPath
	}
	if cfg.ProcessPath == "" {
		cfg.ProcessPath = DefaultProcessPath
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger,
	}
}

// ProcessExcel submits a file-flow payload.
func (c *Client) ProcessExcel(ctx context.Context, payload *types.SubmissionPayload) (types.ServerAck, error) {
	return c.post(ctx, c.cfg.ProcessPath, payload)
}

// ConfirmData submits a clipboard-flow payload.
func (c *Client) ConfirmData(ctx context.Context, payload *types.ConfirmPayload) (types.ServerAck, error) {
	return c.post(ctx, c.cfg.ConfirmPath, payload)
}

// post sends body as JSON and interprets the response.
func (c *Client) post(ctx context.Context, path string, body any) (types.ServerAck, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.inFlight.Store(false)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SubmissionError{Kind: KindTransport, Err: err}
	}

	endpoint := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("submitting", "endpoint", endpoint, "bytes", len(data), "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("submission failed", "endpoint", endpoint, "error", err)
		return nil, &SubmissionError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("submission rejected", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &SubmissionError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{Kind: KindTransport, Err: err}
	}

	ack := types.ServerAck{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			c.logger.Warn("acknowledgment is not a JSON object", "endpoint", endpoint, "error", err)
			ack = types.ServerAck{}
		}
	}

	c.logger.Info("submission accepted", "endpoint", endpoint, "status", resp.StatusCode, "request_id", requestID)
	return ack, nil
}
