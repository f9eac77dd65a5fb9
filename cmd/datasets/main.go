// Package main provides the dataset loader service.
//
// The loader consumes dataset load jobs from the broker, fetches the
// requested external dataset and publishes it on the blackboard for use in
// analysis requests.
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
	"github.com/gsakit-io/gsakit/internal/datasets"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/notify"
)

// Version information.
const (
	version = "0.1.0"
	name    = "gsa-datasets"
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

	logger.Info("Starting dataset loader",
		slog.String("service", name),
		slog.String("version", version),
	)

	loaderConfig := datasets.LoadLoaderConfig()

	store := blackboard.NewStore(blackboard.LoadConfig())

	queue, err := broker.NewKafkaBroker(broker.LoadConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to broker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fetchers := datasets.NewFetcherRegistry()
	if loaderConfig.GreinBaseURL != "" {
		fetchers.Register("grein", datasets.NewGreinFetcher(loaderConfig.GreinBaseURL))
	}

	logger.Info("Dataset fetchers registered",
		slog.Any("resources", fetchers.Resources()),
		slog.Duration("dataset_ttl", loaderConfig.DatasetTTL),
	)

	mailerConfig := notify.LoadConfig()
	mailer := notify.NewMailer(mailerConfig, logger)
	alerter := notify.NewAlerter(mailer, mailerConfig.ErrorAddress, logger)

	registry := job.NewRegistry(store, loaderConfig.DatasetTTL, logger)

	loader := datasets.NewLoader(
		loaderConfig,
		registry,
		store,
		queue,
		fetchers,
		alerter,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loader.Run(ctx); err != nil {
		logger.Error("Loader stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := queue.Close(); err != nil {
		logger.Error("Failed to close broker", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close blackboard store", slog.String("error", err.Error()))
	}

	logger.Info("Dataset loader stopped")
}
