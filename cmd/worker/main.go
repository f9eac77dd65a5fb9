// Package main provides the gene set analysis worker.
//
// The worker consumes analysis jobs from the broker, runs the requested
// analysis kernel and writes results back to the blackboard.
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
	"github.com/gsakit-io/gsakit/internal/kernels"
	"github.com/gsakit-io/gsakit/internal/notify"
	"github.com/gsakit-io/gsakit/internal/worker"
)

// Version information.
const (
	version = "0.1.0"
	name    = "gsa-worker"
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

	logger.Info("Starting analysis worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	workerConfig := worker.LoadWorkerConfig()

	store := blackboard.NewStore(blackboard.LoadConfig())

	queue, err := broker.NewKafkaBroker(broker.LoadConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to broker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	geneSets, err := kernels.LoadGeneSetsFromEnv()
	if err != nil {
		logger.Error("Failed to load gene sets", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Gene sets loaded",
		slog.String("release", geneSets.Release),
		slog.Int("gene_sets", len(geneSets.Sets)),
	)

	mailerConfig := notify.LoadConfig()
	mailer := notify.NewMailer(mailerConfig, logger)
	alerter := notify.NewAlerter(mailer, mailerConfig.ErrorAddress, logger)

	registry := job.NewRegistry(store, workerConfig.ResultTTL, logger)

	analysisWorker := worker.New(
		workerConfig,
		registry,
		store,
		queue,
		kernels.NewRegistry(),
		geneSets,
		worker.NewLinkBuilder(logger),
		alerter,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := analysisWorker.Run(ctx); err != nil {
		logger.Error("Worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdown(queue, store, logger)

	logger.Info("Analysis worker stopped")
}

func shutdown(queue broker.Broker, store blackboard.Store, logger *slog.Logger) {
	if err := queue.Close(); err != nil {
		logger.Error("Failed to close broker", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close blackboard store", slog.String("error", err.Error()))
	}
}
