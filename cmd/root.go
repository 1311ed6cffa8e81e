// =============================================================================
// gridsubmit - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (gridsubmit)
//   ├── pasteCmd   (gridsubmit paste)    clipboard HTML -> confirm-data
//   ├── uploadCmd  (gridsubmit upload)   spreadsheet    -> process-excel
//   ├── serveCmd   (gridsubmit serve)    reference receiver
//   ├── configCmd  (gridsubmit config)   effective configuration
//   └── versionCmd (gridsubmit version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading the configuration (defaults, file, GRIDSUBMIT_* env)
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ginjaninja78/gridsubmit/internal/config"
	"github.com/ginjaninja78/gridsubmit/internal/logging"
	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
// When empty, gridsubmit.yaml is looked up on the default search path.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// appConfig and logger are set by initConfig before any subcommand runs.
var (
	appConfig *config.Config
	logger    *slog.Logger
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gridsubmit",
	Short: "gridsubmit - Extract tables from pasted HTML and spreadsheets and submit them",
	Long: `gridsubmit extracts tabular data from two sources and forwards it to a
backend:

  - HTML copied from a listing page (the clipboard flow). The data table is
    located structurally or heuristically and sent as-is with its label.
  - Spreadsheet files (.xlsx). The first sheet is read, leading rows can be
    skipped, and three columns are mapped to description, value and quantity.

Example Usage:
  gridsubmit paste --file page.html
  gridsubmit upload --file compras.xlsx --skip 1
  gridsubmit upload --file compras.xlsx --skip 1 --description-col 0 --value-col 2 --quantity-col 1
  gridsubmit serve --port 8000`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initConfig()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI. It is called by main.main(). Interrupts cancel the
// command context so in-flight reads and submissions stop.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"Path to the configuration file (default: ./gridsubmit.yaml if present)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// initConfig loads the configuration and builds the logger. Logs go to
// stderr so command output on stdout stays machine-readable.
func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	l, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	appConfig = cfg
	logger = l
	logger.Debug("configuration loaded", "base_url", cfg.Backend.BaseURL, "strategy", cfg.Clipboard.Strategy)
	return nil
}
