// Package data provides data access layer implementations.
// It holds the two message backends (CIF file store, MySQL store) and the
// redis cache in front of the database reads.
package data

import (
	"MsgBridge/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewCifBackend,
	NewDbBackend,
)

// Data bundles the shared data layer dependencies.
type Data struct {
	// redisClient is the Redis client for the message-list cache
	redisClient *redis.Client
	// cache is the cache interface the database backend reads through
	cache CacheClient
}

// NewData creates the Data aggregate. A missing Redis connection does not
// prevent startup; the database backend simply skips the cache.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("redis client is nil, message-list caching will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for backend use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
