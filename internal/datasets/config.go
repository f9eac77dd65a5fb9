package datasets

import (
	"time"

	"github.com/gsakit-io/gsakit/internal/config"
)

// LoaderConfig holds the dataset loader settings.
type LoaderConfig struct {
	// DatasetTTL bounds the lifetime of loaded datasets and of the
	// idempotence index entries pointing at them.
	DatasetTTL time.Duration
	// ProgressMinInterval throttles fetcher progress writes.
	ProgressMinInterval time.Duration
	// GreinBaseURL overrides the GREIN server, mainly for tests.
	GreinBaseURL string
}

// LoadLoaderConfig reads the loader settings from the environment:
// DATASET_TTL, PROGRESS_MIN_INTERVAL, GREIN_BASE_URL.
func LoadLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		DatasetTTL:          config.GetEnvDuration("DATASET_TTL", 6*time.Hour),
		ProgressMinInterval: config.GetEnvDuration("PROGRESS_MIN_INTERVAL", time.Second),
		GreinBaseURL:        config.GetEnvStr("GREIN_BASE_URL", ""),
	}
}
