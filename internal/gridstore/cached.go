package gridstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

type cachedStore struct {
	next Store
	lru  *lru.Cache[string, *utfgrid.Grid]
}

// NewCached fronts next with an in-process LRU of decoded grids. Cached
// grids are shared between callers and must not be modified.
func NewCached(next Store, size int) Store {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, *utfgrid.Grid](size)
	return &cachedStore{next: next, lru: c}
}

func lruKey(layer string, a tile.Address) string {
	return layer + "/" + a.String()
}

func (s *cachedStore) GetGrids(
	ctx context.Context,
	layer string,
	addrs []tile.Address,
) (map[tile.Address]*utfgrid.Grid, error) {
	out := make(map[tile.Address]*utfgrid.Grid, len(addrs))
	var missing []tile.Address
	for _, a := range addrs {
		if g, ok := s.lru.Get(lruKey(layer, a)); ok {
			observability.IncGridLookup("lru", "hit")
			out[a] = g
			continue
		}
		observability.IncGridLookup("lru", "miss")
		missing = append(missing, a)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.next.GetGrids(ctx, layer, missing)
	if err != nil {
		return nil, err
	}
	for a, g := range fetched {
		s.lru.Add(lruKey(layer, a), g)
		out[a] = g
	}
	return out, nil
}

func (s *cachedStore) PutGrid(ctx context.Context, layer string, a tile.Address, g *utfgrid.Grid) error {
	if err := s.next.PutGrid(ctx, layer, a, g); err != nil {
		return err
	}
	s.lru.Add(lruKey(layer, a), g)
	return nil
}
