package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"boardscraper/pkg/checkpoint"
	"boardscraper/pkg/config"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/storage"
	"boardscraper/pkg/ui"
)

var assumeYes bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where an interrupted crawl will resume",
	Long: `Show the checkpoint of a job: the next page a crawl will fetch, the
total seen when the run started and any pages skipped so far.

The job is identified by --name, --output and --checkpoint-dir, or by the
configuration file.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a job's checkpoint",
	Long: `Delete the checkpoint of a job so the next crawl starts from page 1.
The CSV output is left alone; a fresh crawl appends to it.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, resetCmd} {
		cmd.Flags().StringVar(&jobName, "name", "", "job name")
		cmd.Flags().StringVarP(&outputFile, "output", "o", "", "CSV output file")
		cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory for the checkpoint file")
		rootCmd.AddCommand(cmd)
	}
	resetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func openCheckpoint(cmd *cobra.Command) (*checkpoint.Store, *config.Config, error) {
	cfg, err := config.LoadLenient(configFile, changedFlags(cmd))
	if err != nil {
		return nil, nil, err
	}
	path := storage.CheckpointPath(cfg.Sink.Output, cfg.Checkpoint.Dir, cfg.Job.Name)
	return checkpoint.NewStore(path, cfg.Job.Name, logger.NewNopLogger()), cfg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, cfg, err := openCheckpoint(cmd)
	if err != nil {
		return err
	}

	cp, err := store.Read()
	if err != nil {
		return fmt.Errorf("checkpoint %s is unreadable: %w", store.Path(), err)
	}
	if cp == nil {
		ui.PrintInfo("Job", cfg.Job.Name)
		ui.PrintInfo("Checkpoint", "none, the next crawl starts from page 1")
		return nil
	}

	ui.PrintInfo("Job", cfg.Job.Name)
	ui.PrintInfo("Checkpoint", store.Path())
	ui.PrintInfo("Next page", fmt.Sprintf("%d", cp.LastPage))
	if cp.TotalPages > 0 {
		done := cp.LastPage - 1
		ui.PrintInfo("Progress", fmt.Sprintf("%s %d/%d pages", ui.Bar(done, cp.TotalPages, 30), done, cp.TotalPages))
	}
	ui.PrintInfo("Records written", fmt.Sprintf("%d", cp.RecordsWritten))
	if len(cp.SkippedPages) > 0 {
		ui.PrintWarning("Skipped pages", cp.SkippedPages)
	}
	if cp.RunID != "" {
		ui.PrintInfo("Last run", cp.RunID)
	}
	if !cp.UpdatedAt.IsZero() {
		age := time.Since(cp.UpdatedAt).Round(time.Second)
		ui.PrintInfo("Updated", fmt.Sprintf("%s (%s ago)", cp.UpdatedAt.Format(time.DateTime), age))
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	store, cfg, err := openCheckpoint(cmd)
	if err != nil {
		return err
	}
	if !store.Exists() {
		ui.PrintInfo("Checkpoint", "none to delete")
		return nil
	}

	if !assumeYes {
		fmt.Printf("Delete the checkpoint of %s? The next crawl starts from page 1. (y/N): ", cfg.Job.Name)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.Clear(); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Checkpoint of %s deleted", cfg.Job.Name))
	return nil
}
