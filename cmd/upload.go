// =============================================================================
// gridsubmit - Upload Command
// =============================================================================
//
// This file defines the 'upload' command: the spreadsheet flow.
//
// COMMAND USAGE:
//   gridsubmit upload --file <book.xlsx> [flags]
//
// FLAGS:
//   --file             : Spreadsheet to read (.xlsx)
//   --content-type     : Declared MIME type (default: from the extension)
//   --skip             : Leading rows to discard before the header
//   --description-col  : 0-based column holding the description
//   --value-col        : 0-based column holding the value
//   --quantity-col     : 0-based column holding the quantity
//   --dry-run          : Print the process-excel payload instead of sending it
//   --out              : With --dry-run, write the payload to this file
//
// Without all three column flags the command lists the selectable columns
// of the header row and stops, so the mapping can be chosen.
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ginjaninja78/gridsubmit/internal/mapper"
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
	uploadFile        string
	uploadContentType string
	uploadSkip        int
	uploadColumns     = map[types.Field]*int{
		types.FieldDescription: new(int),
		types.FieldValue:       new(int),
		types.FieldQuantity:    new(int),
	}
	uploadDryRun bool
	uploadOut    string
)

// uploadCmd represents the 'upload' command.
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Map three columns of a spreadsheet and submit the rows",
	Long: `The upload command reads the first sheet of a spreadsheet, discards the
requested number of leading rows, and treats the next row as the header.
Each data row is projected onto the description, value and quantity columns
and the result is submitted to the process-excel endpoint.

  gridsubmit upload --file compras.xlsx --skip 2
  gridsubmit upload --file compras.xlsx --skip 2 --description-col 0 --value-col 3 --quantity-col 1`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "Spreadsheet file to read")
	uploadCmd.Flags().StringVar(&uploadContentType, "content-type", "", "Declared MIME type of the file")
	uploadCmd.Flags().IntVar(&uploadSkip, "skip", 0, "Number of leading rows to skip")
	uploadCmd.Flags().IntVar(uploadColumns[types.FieldDescription], "description-col", types.Unselected, "Column holding the description (0-based)")
	uploadCmd.Flags().IntVar(uploadColumns[types.FieldValue], "value-col", types.Unselected, "Column holding the value (0-based)")
	uploadCmd.Flags().IntVar(uploadColumns[types.FieldQuantity], "quantity-col", types.Unselected, "Column holding the quantity (0-based)")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Print the payload instead of sending it")
	uploadCmd.Flags().StringVar(&uploadOut, "out", "", "With --dry-run, write the payload to this file")

	uploadCmd.MarkFlagRequired("file")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runUpload(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: LOAD THE WORKBOOK
	// =========================================================================

	if !utils.FileExists(uploadFile) {
		return fmt.Errorf("input file not found: %s", uploadFile)
	}
	f, err := os.Open(uploadFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", uploadFile, err)
	}
	defer f.Close()

	name := filepath.Base(uploadFile)
	contentType := uploadContentType
	if contentType == "" {
		contentType = utils.ContentTypeFor(name)
	}

	sess := session.New(logger)
	result, err := sess.LoadFile(ctx, name, contentType, f)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sess.Status().Message)
	if len(result.SheetNames) > 1 {
		fmt.Fprintf(out, "Reading sheet %q (%d sheets in the workbook)\n", result.SheetName, len(result.SheetNames))
	}

	// =========================================================================
	// STEP 2: SKIP LEADING ROWS
	// =========================================================================

	if err := sess.SetSkip(uploadSkip); err != nil {
		return fmt.Errorf("%s: %w", sess.Status().Message, err)
	}
	snap := sess.Snapshot()
	fmt.Fprintf(out, "Skipped rows: %d, data rows: %d, columns: %d\n", snap.Offset, snap.DataRows(), len(snap.Columns))

	// =========================================================================
	// STEP 3: MAP COLUMNS
	// =========================================================================

	if !allColumnsChosen() {
		printColumns(out, snap.Columns)
		fmt.Fprintln(out, "Choose the columns with --description-col, --value-col and --quantity-col.")
		return nil
	}

	for _, field := range types.Fields {
		if err := sess.Select(field, *uploadColumns[field]); err != nil {
			return err
		}
	}
	if !sess.SubmitEnabled() {
		snap = sess.Snapshot()
		return fmt.Errorf("%s: %w", sess.Status().Message, mapper.Validate(snap.Mapping, len(snap.Columns)))
	}

	// =========================================================================
	// STEP 4: SUBMIT
	// =========================================================================

	if uploadDryRun {
		snap = sess.Snapshot()
		payload, err := mapper.BuildPayload(snap.Name, snap.Full, snap.Offset, snap.Mapping)
		if err != nil {
			return err
		}
		return emitJSON(out, uploadOut, payload)
	}

	client := submit.NewClient(appConfig.SubmitConfig(), logger)
	ack, err := sess.Submit(ctx, client)
	return reportSubmission(out, sess, ack, err)
}

func allColumnsChosen() bool {
	for _, idx := range uploadColumns {
		if *idx == types.Unselected {
			return false
		}
	}
	return true
}

func printColumns(w io.Writer, columns []mapper.ColumnOption) {
	fmt.Fprintln(w, "Columns:")
	for _, c := range columns {
		fmt.Fprintf(w, "  %3d  %s\n", c.Index, c.Label)
	}
}
