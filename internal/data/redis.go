package data

import (
	"context"
	"time"

	"MsgBridge/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a new Redis client with connection pool settings.
// Connection failure does not prevent application startup: the cache is an
// optimization in front of the database backend, never a requirement.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil {
		helper.Warn("redis configuration is nil, skipping redis initialization")
		return nil, func() {}, nil
	}

	addr := c.Redis.Addr
	if addr == "" {
		helper.Warn("redis address is empty, skipping redis initialization")
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		DB:              0,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     c.Redis.ReadTimeout.AsDuration(),
		WriteTimeout:    c.Redis.WriteTimeout.AsDuration(),
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cleanup := func() {
		helper.Info("closing redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close redis client: %v", err)
		}
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("failed to connect to redis at %s: %v (continuing without cache)", addr, err)
		// Keep the client: it reconnects on its own if redis comes back.
		return rdb, cleanup, nil
	}

	helper.Infof("successfully connected to redis at %s", addr)
	return rdb, cleanup, nil
}
