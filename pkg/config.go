package concache

// config.go defines the functional options shared by ConcurrentMap and
// LruCache construction: a generic Option[K,V] closure over an internal
// config struct.
//
// © 2025 concache authors. MIT License.

import (
	"errors"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a ConcurrentMap or LruCache at construction time.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	shards   int
	hashFunc HashFunc[K]
	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig[K comparable, V any](shards int) *config[K, V] {
	return &config[K, V]{
		shards:   shards,
		hashFunc: defaultHashFunc[K](),
		logger:   zap.NewNop(),
	}
}

// defaultShardCount picks a shard count from the logical CPU count, used by
// the zero-configuration constructors.
func defaultShardCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// WithHasher overrides the default key hasher. The supplied function must be
// pure and must agree with K's equality relation.
func WithHasher[K comparable, V any](fn HashFunc[K]) Option[K, V] {
	return func(c *config[K, V]) {
		if fn != nil {
			c.hashFunc = fn
		}
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; only Duplicate logs, at debug level.
func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the container.
func WithMetrics[K comparable, V any](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) {
		c.registry = reg
	}
}

func applyOptions[K comparable, V any](cfg *config[K, V], opts []Option[K, V]) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.shards <= 0 {
		return errInvalidShards
	}
	return nil
}

var errInvalidShards = errors.New("concache: shard count must be > 0")
