// Package report consumes report jobs and renders the artifacts of a
// completed analysis: a spreadsheet and a PDF summary, plus an optional
// e-mail notification carrying the download links.
package report

import (
	"strings"
	"time"

	"github.com/gsakit-io/gsakit/internal/config"
)

// ReportConfig holds the report service settings.
type ReportConfig struct {
	// ReportTTL bounds the lifetime of report artifacts.
	ReportTTL time.Duration
	// BaseURL is the public address of the API, used to build the
	// download links embedded in notification mails and status records.
	BaseURL string
	// ProgressMinInterval throttles progress writes.
	ProgressMinInterval time.Duration
}

// LoadReportConfig reads the report settings from the environment:
// REPORT_TTL, BASE_URL, PROGRESS_MIN_INTERVAL.
func LoadReportConfig() *ReportConfig {
	return &ReportConfig{
		ReportTTL:           config.GetEnvDuration("REPORT_TTL", 7*24*time.Hour),
		BaseURL:             strings.TrimRight(config.GetEnvStr("BASE_URL", "http://localhost:8080"), "/"),
		ProgressMinInterval: config.GetEnvDuration("PROGRESS_MIN_INTERVAL", time.Second),
	}
}
