// Package main provides the gene set analysis API server.
//
// The API server admits analysis, report and dataset load jobs, serves the
// method and data catalogs and answers status and result queries from the
// blackboard.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/gsakit-io/gsakit/internal/api"
	"github.com/gsakit-io/gsakit/internal/api/middleware"
	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/catalog"
	"github.com/gsakit-io/gsakit/internal/config"
	"github.com/gsakit-io/gsakit/internal/datasets"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/search"
)

// Version information.
const (
	version = "0.1.0"
	name    = "gsa-apiserver"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting analysis API server",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
	)

	store := blackboard.NewStore(blackboard.LoadConfig())

	queue, err := broker.NewKafkaBroker(broker.LoadConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to broker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := job.NewRegistry(store, serverConfig.StatusTTL, logger)
	sweeper := job.NewSweeper(registry, store, job.LoadSweeperConfig(), logger)

	datasources, err := catalog.LoadDatasources(config.GetEnvStr("DATASOURCES_PATH", ""))
	if err != nil {
		logger.Error("Failed to load datasource catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	index, err := buildSearchIndex()
	if err != nil {
		logger.Error("Failed to build dataset search index", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Dataset search index built", slog.Int("documents", index.Size()))

	examples := datasets.NewExampleFetcher().Available()

	server := api.NewServer(serverConfig, &api.Dependencies{
		Store:       store,
		Queue:       queue,
		Registry:    registry,
		Fetchers:    datasets.NewFetcherRegistry(),
		Datasources: datasources,
		Examples:    examples,
		Index:       index,
		Sweeper:     sweeper,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Analysis API server stopped")
}

// buildSearchIndex loads the searchable dataset catalog and term filters.
// All paths are optional; without a catalog the search endpoint serves an
// empty index.
func buildSearchIndex() (*search.Index, error) {
	filter, err := search.LoadTermFilter(
		config.GetEnvStr("SEARCH_WHITELIST_PATH", ""),
		config.GetEnvStr("SEARCH_BLACKLIST_PATH", ""),
	)
	if err != nil {
		return nil, err
	}

	documents, err := search.LoadDocuments(config.GetEnvStr("DATASET_CATALOG_PATH", ""))
	if err != nil {
		return nil, err
	}

	return search.NewIndex(documents, filter), nil
}
