package dendrodb

import (
	"time"

	"github.com/nainya/dendrodb/internal/logger"
	"github.com/nainya/dendrodb/internal/metrics"
)

type config struct {
	cacheCapacity      int
	logLevel           string
	metrics            *metrics.Metrics
	checkpointInterval time.Duration
	disableCheckpoint  bool
}

func defaultConfig() config {
	return config{
		cacheCapacity:      1024,
		logLevel:           logger.LevelFromEnv(),
		checkpointInterval: 10 * time.Minute,
	}
}

// Option configures Open, following the teacher's struct-of-fields Config
// pattern (internal/logger.Config) rather than a new configuration idiom.
type Option func(*config)

// WithCacheCapacity sets the pager's bounded page cache size.
func WithCacheCapacity(pages int) Option {
	return func(c *config) { c.cacheCapacity = pages }
}

// WithLogLevel overrides the DENDRODB_LOG environment variable
// ("off", "warn", "info", "debug").
func WithLogLevel(level string) Option {
	return func(c *config) { c.logLevel = level }
}

// WithMetrics supplies a pre-built metrics set, e.g. one whose Registry the
// caller wants to merge into an existing Prometheus registry. If omitted, a
// fresh private registry is created for the DB.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithCheckpointInterval overrides how often the journal is checkpointed
// and trimmed.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *config) { c.checkpointInterval = d }
}

// WithoutCheckpointing disables the background checkpointer entirely,
// useful for short-lived processes and tests.
func WithoutCheckpointing() Option {
	return func(c *config) { c.disableCheckpoint = true }
}
