package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"boardscraper/pkg/auth"
	"boardscraper/pkg/config"
	"boardscraper/pkg/job"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/metrics"
	"boardscraper/pkg/ui"
	"boardscraper/pkg/ui/tui"
)

var (
	// Crawl flags
	jobName       string
	endpoint      string
	params        map[string]string
	outputFile    string
	pageSize      int
	batchSize     int
	maxAttempts   int
	backoff       string
	onPageFailure string
	preset        string
	checkpointDir string
	metricsAddr   string
	forceRestart  bool
	useTUI        bool
	notify        bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl every page of a listing into a CSV file",
	Long: `Crawl fetches page 1 to learn the total, then walks every page in order,
appending transformed records to the CSV output. After each page is flushed
the checkpoint advances, so an interrupted crawl resumes where it stopped.

Examples:
  # Crawl with the settings in boardscraper.yaml
  boardscraper crawl

  # Keyword search against a board, 100 records per page
  boardscraper crawl --endpoint https://bbs.example.com/api/search \
    --param keyword=outage --name outage -o outage.csv

  # Skip pages that keep failing instead of stopping
  boardscraper crawl --on-page-failure skip

  # Ignore the checkpoint and start over
  boardscraper crawl --force-restart`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	addCrawlFlags(crawlCmd)
	rootCmd.AddCommand(crawlCmd)
}

// addCrawlFlags registers the crawl flags. The root command carries them too
// so a bare invocation crawls.
func addCrawlFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&jobName, "name", "", "job name, used for the checkpoint file and metrics")
	fs.StringVar(&endpoint, "endpoint", "", "listing endpoint URL")
	fs.StringToStringVar(&params, "param", nil, "extra form parameter (key=value, repeatable)")
	fs.StringVarP(&outputFile, "output", "o", "", "CSV output file")
	fs.IntVar(&pageSize, "page-size", 0, "records requested per page")
	fs.IntVar(&batchSize, "batch-size", 0, "records buffered before a write (100-500)")
	fs.IntVar(&maxAttempts, "max-attempts", 0, "fetch attempts per page")
	fs.StringVar(&backoff, "backoff", "", "page retry backoff (linear, exponential)")
	fs.StringVar(&onPageFailure, "on-page-failure", "", "what to do when a page keeps failing (abort, skip)")
	fs.StringVar(&preset, "preset", "", "schema preset (keyword-search, group-threads, custom)")
	fs.StringVar(&checkpointDir, "checkpoint-dir", "", "directory for the checkpoint file (default: next to the output)")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&forceRestart, "force-restart", false, "discard the checkpoint and start from page 1")
	fs.BoolVar(&useTUI, "tui", false, "show the full-screen dashboard")
	fs.BoolVar(&notify, "notify", false, "send a desktop notification when the crawl ends")
}

// changedFlags collects the flags set on the command line, keyed by name
func changedFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "param":
			flags[f.Name] = params
		case "page-size":
			flags[f.Name] = pageSize
		case "batch-size":
			flags[f.Name] = batchSize
		case "max-attempts":
			flags[f.Name] = maxAttempts
		case "no-color":
			flags[f.Name] = noColor
		default:
			flags[f.Name] = f.Value.String()
		}
	})
	return flags
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, changedFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The progress line and console logs share the terminal
	if !verbose && !cmd.Flags().Changed("log-level") && ui.IsTerminal() {
		cfg.Logging.Level = "warn"
	}

	var log logger.Logger
	if useTUI {
		log, err = logger.NewWithWriter(&cfg.Logging, io.Discard)
	} else {
		log, err = logger.New(&cfg.Logging)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.API.Cookie == "" {
		loadStoredCookie(cfg, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New(cfg.Job.Name)
	if cfg.Metrics.Addr != "" {
		collector.Serve(ctx, cfg.Metrics.Addr, log)
	}

	var dashboard *tui.TUI
	var reporter ui.Reporter
	switch {
	case useTUI:
		dashboard = tui.New(stop)
		reporter = dashboard
	case quiet:
		reporter = ui.NopReporter{}
	default:
		reporter = ui.NewProgressDisplay(os.Stdout, verbose)
	}

	crawl, err := job.New(job.Runtime{
		Config:   cfg,
		Logger:   log,
		Metrics:  collector,
		Reporter: reporter,
	}, job.Options{ForceRestart: forceRestart})
	if err != nil {
		return err
	}

	if !useTUI {
		ui.PrintInfo("Job", cfg.Job.Name)
		ui.PrintInfo("Endpoint", cfg.API.Endpoint)
		ui.PrintInfo("Output", crawl.Paths().OutputPath())
		ui.PrintInfo("Checkpoint", crawl.Paths().CheckpointPath())
		ui.PrintInfo("Run", crawl.RunID())
	}

	var summary ui.Summary
	var runErr error
	if dashboard != nil {
		summary, runErr = runWithDashboard(ctx, crawl, dashboard, log)
		// The dashboard is gone once the alt screen closes
		ui.NewProgressDisplay(os.Stdout, false).Finished(summary)
	} else {
		summary, runErr = crawl.Run(ctx)
	}

	if notify {
		ui.NewNotifier().NotifyFinished(summary)
	}

	var abortErr *job.AbortError
	if errors.As(runErr, &abortErr) {
		return fmt.Errorf("crawl %s: %w", summary.State, abortErr)
	}
	return runErr
}

// runWithDashboard crawls in the background while the dashboard owns the
// terminal. Quitting the dashboard cancels ctx, so the crawl still saves its
// checkpoint before returning.
func runWithDashboard(ctx context.Context, crawl *job.Job, dashboard *tui.TUI, log logger.Logger) (ui.Summary, error) {
	type result struct {
		summary ui.Summary
		err     error
	}
	crawlDone := make(chan result, 1)
	go func() {
		summary, err := crawl.Run(ctx)
		crawlDone <- result{summary, err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- dashboard.Start()
	}()

	select {
	case res := <-crawlDone:
		dashboard.Stop()
		if err := <-tuiDone; err != nil {
			log.WithError(err).Warn("Dashboard exited with error")
		}
		return res.summary, res.err
	case err := <-tuiDone:
		if err != nil {
			log.WithError(err).Warn("Dashboard exited with error")
		}
		res := <-crawlDone
		return res.summary, res.err
	}
}

// loadStoredCookie fills the session cookie from the credential stores when
// the configuration has none
func loadStoredCookie(cfg *config.Config, log logger.Logger) {
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Debug("No credential store available")
		return
	}
	cookie, err := manager.CookieFor(cfg.API.Endpoint)
	if err != nil {
		if !errors.Is(err, auth.ErrCredentialsNotFound) {
			log.WithError(err).Warn("Failed to read stored cookie")
		}
		return
	}
	cfg.API.Cookie = cookie
	log.Info("Using stored session cookie")
}
