// Package gridsource supplies decoded grids for visible tiles. Backends
// register a Factory under a name and are selected by GRID_SOURCE.
package gridsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/mohammed-shakir/gridlight/internal/core/config"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

// Source resolves grids for visible tiles. Tiles with no grid are left out
// of the result.
type Source interface {
	Tiles(ctx context.Context, refs []tile.TileRef) ([]utfgrid.Tile, error)
	Ready(ctx context.Context) error
	Close() error
}

// Writer is implemented by sources that accept grid uploads.
type Writer interface {
	PutGrid(ctx context.Context, a tile.Address, g *utfgrid.Grid) error
}

type Deps struct {
	Layer  *tile.Layer
	Logger *slog.Logger
	HTTP   *http.Client
}

type Factory func(ctx context.Context, cfg config.Config, deps Deps) (Source, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// Names lists the registered sources.
func Names() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func New(ctx context.Context, name string, cfg config.Config, deps Deps) (Source, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if f, ok := reg[name]; ok {
		return f(ctx, cfg, deps)
	}
	return nil, fmt.Errorf("unknown grid source %q (registered: %v)", name, Names())
}
