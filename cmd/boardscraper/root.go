package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"boardscraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd crawls when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "boardscraper",
	Short: "Resumable crawler that turns paginated JSON listings into CSV",
	Long: `boardscraper walks a paginated JSON listing endpoint page by page and
appends every record to a CSV file.

Features:
  - Resumes from a checkpoint after a crash, an abort or Ctrl+C
  - Page-level retry with linear or exponential backoff
  - Transport retry on 5xx and 429 responses
  - Epoch timestamps rendered as readable dates, metadata flattened to columns
  - Optional Postgres mirror, S3 export and Prometheus metrics`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.DisableColor()
		}

		if cmd.Name() != "version" && cmd.Name() != "help" && !useTUI {
			ui.PrintBanner()
		}
	},
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./boardscraper.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every page instead of a progress line")

	addCrawlFlags(rootCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`boardscraper version %s
  Git commit: %s
  Built:      %s
  Go version: %s
  OS/Arch:    %s/%s
`, version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
