package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"boardscraper/pkg/auth"
	"boardscraper/pkg/config"
	"boardscraper/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage boardscraper configuration files.

Configuration is merged from, highest priority first:
  - Command line flags
  - BOARDSCRAPER_* environment variables (a .env file is read too)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with the common options.

The file is created as 'boardscraper.yaml' in the current directory unless
a different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration",
	Long: `Show the configuration after merging every source. Cookies, DSNs and
access keys are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# boardscraper configuration
#
# Every value can be overridden with a BOARDSCRAPER_* environment variable,
# for example BOARDSCRAPER_ENDPOINT or BOARDSCRAPER_COOKIE.

api:
  # Listing endpoint, called with a form-encoded POST per page
  endpoint: "https://bbs.example.com/api/search"
  # Extra form fields sent with every page
  params:
    keyword: "outage"
  page_param: pageNum
  size_param: pageSize
  timeout: 30s
  # Pages wrapped in {"code":..,"data":{..}} use "data", bare pages "none"
  envelope: data

job:
  # Names the checkpoint file; keep it stable between runs
  name: outage-search
  page_size: 100
  # abort: stop and save the checkpoint, skip: record the page and continue
  on_page_failure: abort

schema:
  # keyword-search, group-threads or custom
  preset: keyword-search
  # Epoch fields are rendered in this zone (default: local time)
  timezone: ""

retry:
  max_attempts: 3
  # linear or exponential
  strategy: linear
  base_delay: 15s
  max_delay: 5m

transport:
  max_retries: 5
  backoff_factor: 2s
  status_codes: [500, 502, 503, 504, 429]

politeness:
  # Random pause between pages
  min_delay: 7s
  max_delay: 10s
  requests_per_minute: 0

sink:
  output: outage.csv
  # Records buffered before a write, 100-500
  batch_size: 100
  bom: true
  # Optional Postgres mirror of every written record
  postgres:
    dsn: ""
    table: crawl_records

checkpoint:
  # Default: next to the output file
  dir: ""

export:
  # Upload the finished CSV to S3-compatible storage
  enabled: false
  endpoint: "localhost:9000"
  bucket: crawls
  prefix: ""
  access_key: ""
  secret_key: ""
  use_ssl: false

metrics:
  # Prometheus endpoint, e.g. ":9090"
  addr: ""

logging:
  level: info
  file: ""
  max_size: 100
  max_backups: 3
  max_age: 7
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "boardscraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file %s already exists; remove it first to start over", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Configuration file created: %s", configPath))
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set api.endpoint and job.name")
	fmt.Println("  2. Store a session cookie if the board needs one: boardscraper auth set")
	fmt.Println("  3. Start crawling: boardscraper crawl")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadLenient(configFile, changedFlags(cmd))
	if err != nil {
		return err
	}
	if err := cfg.ApplyPreset(); err != nil {
		return err
	}

	masked := maskSecrets(*cfg)
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current configuration")
	fmt.Println()
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, changedFlags(cmd))
	if err != nil {
		return err
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Job", cfg.Job.Name)
	ui.PrintInfo("Endpoint", cfg.API.Endpoint)
	ui.PrintInfo("Preset", cfg.Schema.Preset)
	ui.PrintInfo("Output", cfg.Sink.Output)
	ui.PrintInfo("Failure policy", cfg.Job.OnPageFailure)
	if cfg.Sink.Postgres.DSN == "" {
		ui.PrintInfo("Postgres mirror", "off")
	} else {
		ui.PrintInfo("Postgres mirror", cfg.Sink.Postgres.Table)
	}
	if cfg.Export.Enabled {
		ui.PrintInfo("Export", cfg.Export.Endpoint+"/"+cfg.Export.Bucket)
	}
	return nil
}

// maskSecrets returns a copy of cfg with credentials masked
func maskSecrets(cfg config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return auth.MaskString(s)
	}
	cfg.API.Cookie = mask(cfg.API.Cookie)
	cfg.Sink.Postgres.DSN = mask(cfg.Sink.Postgres.DSN)
	cfg.Export.AccessKey = mask(cfg.Export.AccessKey)
	cfg.Export.SecretKey = mask(cfg.Export.SecretKey)
	return cfg
}
