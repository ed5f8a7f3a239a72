// Package upstream fetches grids from the layer's tile servers, selecting a
// server per tile the same way the client does.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/gridlight/internal/core/config"
	"github.com/mohammed-shakir/gridlight/internal/core/httpclient"
	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/gridsource"
	"github.com/mohammed-shakir/gridlight/internal/gridstore"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

// ErrUpstream wraps tile server failures other than a missing tile.
var ErrUpstream = errors.New("upstream grid fetch failed")

const maxGridBytes = 8 << 20

func init() {
	gridsource.Register("upstream", newUpstream)
}

func newUpstream(_ context.Context, cfg config.Config, deps gridsource.Deps) (gridsource.Source, error) {
	if deps.Layer == nil {
		return nil, fmt.Errorf("upstream grid source: layer is required")
	}
	f, err := NewFetcher(deps.Layer, deps.HTTP, deps.Logger,
		WithBaseURL(cfg.Grid.UpstreamBaseURL),
		WithWorkers(cfg.Grid.FetchWorkers),
		WithTimeout(cfg.Grid.UpstreamTimeout),
	)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("grid source ready",
		"source", "upstream", "layer", deps.Layer.Name(),
		"servers", len(deps.Layer.Templates()), "lru_size", cfg.Grid.CacheSize)

	return &gridsource.StoreSource{
		Store: gridstore.NewCached(f, cfg.Grid.CacheSize),
		Layer: deps.Layer,
	}, nil
}

type Option func(*Fetcher) error

func WithBaseURL(raw string) Option {
	return func(f *Fetcher) error {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse upstream base url: %w", err)
		}
		f.base = u
		return nil
	}
}

func WithWorkers(n int) Option {
	return func(f *Fetcher) error {
		if n > 0 {
			f.workers = n
		}
		return nil
	}
}

// WithTimeout bounds each tile fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) error {
		if d > 0 {
			f.timeout = d
		}
		return nil
	}
}

// Fetcher is a read-only gridstore.Store backed by the layer's tile servers.
type Fetcher struct {
	layer   *tile.Layer
	http    *http.Client
	logger  *slog.Logger
	base    *url.URL
	workers int
	timeout time.Duration
}

func NewFetcher(layer *tile.Layer, hc *http.Client, logger *slog.Logger, opts ...Option) (*Fetcher, error) {
	if hc == nil {
		hc = httpclient.NewOutbound()
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		layer:   layer,
		http:    hc,
		logger:  logger,
		workers: 8,
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		if err := o(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

type result struct {
	addr tile.Address
	grid *utfgrid.Grid
	err  error
}

// GetGrids fetches addrs concurrently. Tiles the server reports as missing
// are left out; any other failure fails the whole lookup.
func (f *Fetcher) GetGrids(ctx context.Context, _ string, addrs []tile.Address) (map[tile.Address]*utfgrid.Grid, error) {
	out := make(map[tile.Address]*utfgrid.Grid, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	jobs := make(chan tile.Address)
	results := make(chan result, len(addrs))

	workerN := min(f.workers, len(addrs))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for a := range jobs {
				g, err := f.fetch(ctx, a)
				results <- result{addr: a, grid: g, err: err}
			}
		}()
	}

feed:
	for _, a := range addrs {
		select {
		case jobs <- a:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	for r := range results {
		switch {
		case r.err != nil:
			errs = append(errs, r.err)
		case r.grid != nil:
			out[r.addr] = r.grid
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w (%d/%d tiles failed): %w", ErrUpstream, len(errs), len(addrs), errors.Join(errs...))
	}
	return out, nil
}

func (f *Fetcher) PutGrid(context.Context, string, tile.Address, *utfgrid.Grid) error {
	return gridsource.ErrReadOnly
}

func (f *Fetcher) resolve(a tile.Address) (string, error) {
	raw, err := f.layer.URL(a)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("tile %s url: %w", a, err)
	}
	if !u.IsAbs() {
		if f.base == nil {
			return "", fmt.Errorf("tile %s url %q is relative and no upstream base url is set", a, raw)
		}
		u = f.base.ResolveReference(u)
	}
	return u.String(), nil
}

// fetch returns a nil grid without error when the server has no such tile.
func (f *Fetcher) fetch(ctx context.Context, a tile.Address) (*utfgrid.Grid, error) {
	target, err := f.resolve(a)
	if err != nil {
		return nil, err
	}

	ctxReq, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("tile %s request: %w", a, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		observability.ObserveUpstreamFetch("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("tile %s fetch: %w", a, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("close response body", "err", cerr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		observability.ObserveUpstreamFetch("not_found", time.Since(start).Seconds())
		observability.IncGridLookup("upstream", "miss")
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observability.ObserveUpstreamFetch("error", time.Since(start).Seconds())
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tile %s status=%d body=%q", a, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGridBytes))
	if err != nil {
		observability.ObserveUpstreamFetch("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("tile %s read: %w", a, err)
	}
	g, err := utfgrid.DecodeGrid(body)
	if err != nil {
		observability.ObserveUpstreamFetch("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("tile %s: %w", a, err)
	}
	observability.ObserveUpstreamFetch("ok", time.Since(start).Seconds())
	observability.IncGridLookup("upstream", "hit")
	f.logger.Debug("grid fetched", "tile", a.String(), "url", target, "dur", time.Since(start).String())
	return g, nil
}
