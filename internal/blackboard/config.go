package blackboard

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gsakit-io/gsakit/internal/config"
)

// Default connection settings.
const (
	defaultRedisHost   = "localhost"
	defaultRedisPort   = 6379
	defaultDialTimeout = 5 * time.Second
	defaultOpTimeout   = 3 * time.Second
)

// Config holds the blackboard connection settings.
type Config struct {
	Host         string
	Port         int
	Password     string
	Database     int
	Cluster      bool
	ClusterAddrs []string
	DialTimeout  time.Duration
	OpTimeout    time.Duration
}

// LoadConfig reads the blackboard configuration from the environment:
// REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_PASSWORD_FILE,
// REDIS_DATABASE, REDIS_CLUSTER, REDIS_CLUSTER_ADDRS.
func LoadConfig() *Config {
	return &Config{
		Host:         config.GetEnvStr("REDIS_HOST", defaultRedisHost),
		Port:         config.GetEnvInt("REDIS_PORT", defaultRedisPort),
		Password:     config.GetEnvSecret("REDIS_PASSWORD", "REDIS_PASSWORD_FILE"),
		Database:     config.GetEnvInt("REDIS_DATABASE", 0),
		Cluster:      config.GetEnvBool("REDIS_CLUSTER", false),
		ClusterAddrs: config.ParseCommaSeparatedList(config.GetEnvStr("REDIS_CLUSTER_ADDRS", "")),
		DialTimeout:  config.GetEnvDuration("REDIS_DIAL_TIMEOUT", defaultDialTimeout),
		OpTimeout:    config.GetEnvDuration("REDIS_OP_TIMEOUT", defaultOpTimeout),
	}
}

// Address returns the host:port of the single-node deployment.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Cluster && len(c.ClusterAddrs) == 0 {
		return fmt.Errorf("REDIS_CLUSTER is set but REDIS_CLUSTER_ADDRS is empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid REDIS_PORT: %d", c.Port)
	}

	return nil
}

// NewStore creates the store matching the configuration: a cluster store
// when Cluster is set, a single-node store otherwise.
func NewStore(cfg *Config) *RedisStore {
	if cfg.Cluster {
		return NewClusterStore(cfg)
	}

	return NewRedisStore(cfg)
}
