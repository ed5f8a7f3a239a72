// Package gridstore persists decoded UTFGrid payloads per layer and tile.
package gridstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/gridstore/redisstore"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

var ErrNotFound = errors.New("grid not found")

// Store reads and writes tile grids. GetGrids returns only the grids it
// found; absent tiles are simply missing from the map.
type Store interface {
	GetGrids(ctx context.Context, layer string, addrs []tile.Address) (map[tile.Address]*utfgrid.Grid, error)
	PutGrid(ctx context.Context, layer string, a tile.Address, g *utfgrid.Grid) error
}

type redisGridStore struct {
	cli     *redisstore.Client
	variant string
	ttl     time.Duration
}

// NewRedisStore stores grids as JSON under Key(layer, addr, variant).
// A ttl of zero keeps grids until overwritten.
func NewRedisStore(cli *redisstore.Client, variant string, ttl time.Duration) Store {
	return &redisGridStore{cli: cli, variant: variant, ttl: ttl}
}

func (s *redisGridStore) GetGrids(
	ctx context.Context,
	layer string,
	addrs []tile.Address,
) (map[tile.Address]*utfgrid.Grid, error) {
	out := make(map[tile.Address]*utfgrid.Grid, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = Key(layer, a, s.variant)
	}
	raw, err := s.cli.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("gridstore redis MGET %d keys: %w", len(keys), err)
	}

	for i, a := range addrs {
		b, ok := raw[keys[i]]
		if !ok {
			observability.IncGridLookup("redis", "miss")
			continue
		}
		g, err := utfgrid.DecodeGrid(b)
		if err != nil {
			observability.IncGridLookup("redis", "corrupt")
			continue
		}
		observability.IncGridLookup("redis", "hit")
		out[a] = g
	}
	return out, nil
}

func (s *redisGridStore) PutGrid(ctx context.Context, layer string, a tile.Address, g *utfgrid.Grid) error {
	if g == nil {
		return errors.New("gridstore: nil grid")
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("gridstore: %w", err)
	}
	b, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("gridstore: encode grid: %w", err)
	}
	k := Key(layer, a, s.variant)
	if err := s.cli.Set(ctx, k, b, s.ttl); err != nil {
		return fmt.Errorf("gridstore redis SET %q: %w", k, err)
	}
	return nil
}

// Get is a single-tile convenience over s that returns ErrNotFound on a miss.
func Get(ctx context.Context, s Store, layer string, a tile.Address) (*utfgrid.Grid, error) {
	m, err := s.GetGrids(ctx, layer, []tile.Address{a})
	if err != nil {
		return nil, err
	}
	g, ok := m[a]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", layer, a, ErrNotFound)
	}
	return g, nil
}
