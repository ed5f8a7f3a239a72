// Package redissource serves grids that were uploaded to redis, fronted by an
// in-process LRU.
package redissource

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/gridlight/internal/core/config"
	"github.com/mohammed-shakir/gridlight/internal/gridsource"
	"github.com/mohammed-shakir/gridlight/internal/gridstore"
	"github.com/mohammed-shakir/gridlight/internal/gridstore/redisstore"
)

func init() {
	gridsource.Register("redis", newRedis)
}

func newRedis(ctx context.Context, cfg config.Config, deps gridsource.Deps) (gridsource.Source, error) {
	if deps.Layer == nil {
		return nil, fmt.Errorf("redis grid source: layer is required")
	}
	rc, err := redisstore.New(ctx, cfg.Grid.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}

	variant := gridstore.Variant(deps.Layer.Templates())
	store := gridstore.NewCached(gridstore.NewRedisStore(rc, variant, cfg.Grid.TTL), cfg.Grid.CacheSize)

	deps.Logger.Info("grid source ready",
		"source", "redis", "addr", cfg.Grid.RedisAddr, "layer", deps.Layer.Name(),
		"ttl", cfg.Grid.TTL.String(), "lru_size", cfg.Grid.CacheSize)

	return &gridsource.StoreSource{
		Store:     store,
		Layer:     deps.Layer,
		OpTimeout: cfg.Grid.OpTimeout,
		ReadyFunc: rc.Ping,
		CloseFunc: rc.Close,
	}, nil
}
