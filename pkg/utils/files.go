// =============================================================================
// gridsubmit - File Utilities
// =============================================================================
//
// This module provides the input-side file helpers shared by the CLI and the
// extractors:
//   - Asynchronous, cancellable reads of an input stream
//   - Opening inputs from a path or stdin ("-")
//   - Content-type lookup by extension
//   - Writing JSON documents to disk
//
// =============================================================================

package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// ASYNCHRONOUS READS
// =============================================================================

// ReadResult is the single outcome of an asynchronous read: either the
// content or the error that stopped it.
type ReadResult struct {
	Data []byte
	Err  error
}

// ReadAsync reads r to completion on its own goroutine and delivers exactly
// one ReadResult on the returned channel.
//
// PARAMETERS:
//   - ctx: Cancelling ctx delivers ctx.Err() without waiting for the read.
//   - r: The stream to read. It is not closed.
//
// RETURNS:
//   - A buffered channel that receives one result and is then closed.
func ReadAsync(ctx context.Context, r io.Reader) <-chan ReadResult {
	out := make(chan ReadResult, 1)
	done := make(chan ReadResult, 1)

	go func() {
		data, err := io.ReadAll(r)
		done <- ReadResult{Data: data, Err: err}
	}()

	go func() {
		defer close(out)
		select {
		case res := <-done:
			out <- res
		case <-ctx.Done():
			out <- ReadResult{Err: ctx.Err()}
		}
	}()

	return out
}

// ReadAll starts an asynchronous read and waits for its result.
func ReadAll(ctx context.Context, r io.Reader) ([]byte, error) {
	res := <-ReadAsync(ctx, r)
	return res.Data, res.Err
}

// =============================================================================
// INPUT FILES
// =============================================================================

// OpenInput opens path for reading. "-" selects stdin, which is never closed
// by the returned closer.
func OpenInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// spreadsheetTypes covers extensions the system mime table may not know.
var spreadsheetTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".html": "text/html",
	".htm":  "text/html",
}

// ContentTypeFor returns the declared MIME type of a file name, or "" when
// the extension is unknown.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := spreadsheetTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return ""
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// =============================================================================
// OUTPUT FILES
// =============================================================================

// WriteJSON writes v as indented JSON to path, creating parent directories.
func WriteJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
