// Package main provides the report generation service.
//
// The report service consumes report jobs from the broker, renders the
// spreadsheet and PDF artifacts of a completed analysis and mails download
// links to the requesting user.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/config"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/notify"
	"github.com/gsakit-io/gsakit/internal/report"
)

// Version information.
const (
	version = "0.1.0"
	name    = "gsa-report"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting report service",
		slog.String("service", name),
		slog.String("version", version),
	)

	reportConfig := report.LoadReportConfig()

	store := blackboard.NewStore(blackboard.LoadConfig())

	queue, err := broker.NewKafkaBroker(broker.LoadConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to broker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mailerConfig := notify.LoadConfig()
	mailer := notify.NewMailer(mailerConfig, logger)
	alerter := notify.NewAlerter(mailer, mailerConfig.ErrorAddress, logger)

	registry := job.NewRegistry(store, reportConfig.ReportTTL, logger)

	service := report.NewService(
		reportConfig,
		registry,
		store,
		queue,
		mailer,
		alerter,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil {
		logger.Error("Report service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := queue.Close(); err != nil {
		logger.Error("Failed to close broker", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close blackboard store", slog.String("error", err.Error()))
	}

	logger.Info("Report service stopped")
}
