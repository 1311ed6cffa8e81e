package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ginjaninja78/gridsubmit/internal/session"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/ginjaninja78/gridsubmit/pkg/utils"
)

// emitJSON writes v to the file at path, or pretty-prints it to w when path
// is empty.
func emitJSON(w io.Writer, path string, v any) error {
	if path != "" {
		if err := utils.WriteJSON(path, v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Payload written to %s\n", path)
		return nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// reportSubmission prints the outcome of a submission.
func reportSubmission(w io.Writer, sess *session.Session, ack map[string]any, err error) error {
	status := sess.Status()
	fmt.Fprintln(w, status.Message)

	if err != nil {
		var subErr *submit.SubmissionError
		if errors.As(err, &subErr) && subErr.Kind == submit.KindRejected {
			return fmt.Errorf("backend returned %s", subErr.Status)
		}
		return err
	}

	if len(ack) > 0 {
		return emitJSON(w, "", ack)
	}
	return nil
}
