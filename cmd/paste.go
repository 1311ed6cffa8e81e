// =============================================================================
// gridsubmit - Paste Command
// =============================================================================
//
// This file defines the 'paste' command: the clipboard flow.
//
// COMMAND USAGE:
//   gridsubmit paste [flags]
//
// FLAGS:
//   --file      : HTML fragment to read ("-" for stdin, the default)
//   --strategy  : Override the table locator (structural, heuristic, auto)
//   --dry-run   : Print the confirm-data payload instead of sending it
//   --out       : With --dry-run, write the payload to this file
//
// PIPELINE:
//   1. Read the HTML
//   2. Locate the data table and its description label
//   3. Convert the table to a grid
//   4. POST {data, description} to confirm-data
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/ginjaninja78/gridsubmit/internal/htmlparser"
	"github.com/ginjaninja78/gridsubmit/internal/session"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/ginjaninja78/gridsubmit/pkg/utils"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	pasteFile     string
	pasteStrategy string
	pasteDryRun   bool
	pasteOut      string
)

// pasteCmd represents the 'paste' command.
var pasteCmd = &cobra.Command{
	Use:   "paste",
	Short: "Extract the table from pasted HTML and submit it",
	Long: `The paste command reads the HTML flavor of a clipboard copy, finds the
data table and its description, and submits both to the confirm-data
endpoint.

  xclip -selection clipboard -t text/html -o | gridsubmit paste
  gridsubmit paste --file listing.html --dry-run`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runPaste(cmd)
	},
}

func init() {
	rootCmd.AddCommand(pasteCmd)

	pasteCmd.Flags().StringVarP(&pasteFile, "file", "f", "-", "HTML file to read (- for stdin)")
	pasteCmd.Flags().StringVar(&pasteStrategy, "strategy", "", "Table locator: structural, heuristic or auto (default from config)")
	pasteCmd.Flags().BoolVar(&pasteDryRun, "dry-run", false, "Print the payload instead of sending it")
	pasteCmd.Flags().StringVar(&pasteOut, "out", "", "With --dry-run, write the payload to this file")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runPaste(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: READ INPUT
	// =========================================================================

	in, err := utils.OpenInput(pasteFile)
	if err != nil {
		return err
	}
	defer in.Close()

	raw, err := utils.ReadAll(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", pasteFile, err)
	}

	// =========================================================================
	// STEP 2: EXTRACT
	// =========================================================================

	opts := appConfig.ExtractOptions(logger)
	if pasteStrategy != "" {
		opts.Strategy = htmlparser.Strategy(pasteStrategy)
	}

	sess := session.New(logger)
	result, err := sess.LoadClipboard(string(raw), opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, sess.Status().Message)
	if result.Found() {
		fmt.Fprintf(out, "Locator:     %s\n", result.Strategy)
	}
	if result.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", result.Description)
	}

	// =========================================================================
	// STEP 3: SUBMIT
	// =========================================================================

	if pasteDryRun {
		snap := sess.Snapshot()
		payload := types.ConfirmPayload{Data: snap.Full, Description: snap.Description}
		if payload.Data == nil {
			payload.Data = types.Grid{}
		}
		return emitJSON(out, pasteOut, payload)
	}

	client := submit.NewClient(appConfig.SubmitConfig(), logger)
	ack, err := sess.SubmitClipboard(ctx, client)
	return reportSubmission(out, sess, ack, err)
}
