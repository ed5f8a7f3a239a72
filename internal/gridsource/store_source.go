package gridsource

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/gridlight/internal/gridstore"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

// StoreSource adapts a gridstore.Store to Source for one layer.
type StoreSource struct {
	Store     gridstore.Store
	Layer     *tile.Layer
	OpTimeout time.Duration
	ReadyFunc func(ctx context.Context) error
	CloseFunc func() error
}

func (s *StoreSource) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.OpTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *StoreSource) Tiles(ctx context.Context, refs []tile.TileRef) ([]utfgrid.Tile, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	seen := make(map[tile.Address]struct{}, len(refs))
	addrs := make([]tile.Address, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.Address]; ok {
			continue
		}
		seen[r.Address] = struct{}{}
		addrs = append(addrs, r.Address)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	grids, err := s.Store.GetGrids(opCtx, s.Layer.Name(), addrs)
	if err != nil {
		return nil, err
	}

	out := make([]utfgrid.Tile, 0, len(grids))
	for _, r := range refs {
		g, ok := grids[r.Address]
		if !ok {
			continue
		}
		out = append(out, utfgrid.Tile{
			Address:    r.Address,
			Bounds:     r.Bounds,
			Grid:       g,
			Resolution: s.Layer.UTFGridResolution(),
		})
	}
	return out, nil
}

func (s *StoreSource) PutGrid(ctx context.Context, a tile.Address, g *utfgrid.Grid) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.Store.PutGrid(opCtx, s.Layer.Name(), a, g)
}

func (s *StoreSource) Ready(ctx context.Context) error {
	if s.ReadyFunc == nil {
		return nil
	}
	return s.ReadyFunc(ctx)
}

func (s *StoreSource) Close() error {
	if s.CloseFunc == nil {
		return nil
	}
	return s.CloseFunc()
}

// ErrReadOnly is returned by sources that do not accept grid uploads.
var ErrReadOnly = errors.New("grid source is read-only")
