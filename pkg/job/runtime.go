package job

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"boardscraper/pkg/config"
	"boardscraper/pkg/export"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/metrics"
	"boardscraper/pkg/ratelimit"
	"boardscraper/pkg/ui"
)

// Exporter uploads a finished output file
type Exporter interface {
	Upload(ctx context.Context, file string, m export.Manifest) (string, error)
}

// Runtime is everything a job needs from its caller. It is built once by the
// command and passed down explicitly.
type Runtime struct {
	Config   *config.Config
	Logger   logger.Logger
	Metrics  *metrics.Collector
	Reporter ui.Reporter
	RunID    string

	// Sleep replaces every wait of the crawl (backoff, politeness, rate limit)
	Sleep ratelimit.SleepFunc
	// RoundTripper replaces the default HTTP transport
	RoundTripper http.RoundTripper
	// Exporter overrides the uploader built from the export section
	Exporter Exporter
}

// NewRunID returns a fresh identifier for one run
func NewRunID() string {
	return uuid.New().String()
}

func (rt *Runtime) fill() {
	if rt.Logger == nil {
		rt.Logger = logger.NewNopLogger()
	}
	if rt.RunID == "" {
		rt.RunID = NewRunID()
	}
	if rt.Metrics == nil {
		rt.Metrics = metrics.New(rt.Config.Job.Name)
	}
	if rt.Reporter == nil {
		rt.Reporter = ui.NopReporter{}
	}
	if rt.Sleep == nil {
		rt.Sleep = ratelimit.Sleep
	}
}
