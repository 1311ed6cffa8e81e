// =============================================================================
// gridsubmit - Main Entry Point
// =============================================================================
//
// USAGE:
//   gridsubmit paste     - Extract the table from pasted HTML and submit it
//   gridsubmit upload    - Map spreadsheet columns and submit the rows
//   gridsubmit serve     - Run the reference receiver
//   gridsubmit config    - Print the effective configuration
//   gridsubmit version   - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : extraction, mapping, session, submission and receiver
//   - pkg/       : shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/gridsubmit/cmd"
)

func main() {
	cmd.Execute()
}
