package gridstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/gridlight/internal/gridstore/redisstore"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

func newRedisStore(t *testing.T, ttl time.Duration) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisStore(cli, "tpl-a", ttl), mr
}

func sampleGrid(id string) *utfgrid.Grid {
	return &utfgrid.Grid{
		Grid: [][]int{{0, 1}, {1, 1}},
		Keys: []string{"", id},
	}
}

func TestKey_Stable(t *testing.T) {
	a := tile.Address{X: 3, Y: 5, Z: 4}
	k1 := Key(" world: countries ", a, "https://a/{z}/{x}/{y}")
	k2 := Key("world: countries", a, " https://a/{z}/{x}/{y} ")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^grid:[A-Za-z0-9_\-]+:4:3:5:v=[0-9a-f]{16}$`).MatchString(k1) {
		t.Fatalf("unexpected key shape: %s", k1)
	}
	if Key("world", a, "x") == Key("world", a, "y") {
		t.Fatalf("different variants must produce different keys")
	}
	if Key("world", a, "x") == Key("world", tile.Address{X: 5, Y: 3, Z: 4}, "x") {
		t.Fatalf("x and y must not be interchangeable")
	}
}

func TestVariantAndChecksum(t *testing.T) {
	if got := Variant([]string{" a ", "", "b"}); got != "a|b" {
		t.Fatalf("Variant=%q", got)
	}
	if Checksum([]byte("abc")) != Checksum([]byte("abc")) || len(Checksum(nil)) != 16 {
		t.Fatalf("checksum not stable")
	}
}

func TestRedisStore_PutGet(t *testing.T) {
	s, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()
	a := tile.Address{X: 1, Y: 2, Z: 3}

	if err := s.PutGrid(ctx, "world", a, sampleGrid("SE")); err != nil {
		t.Fatalf("PutGrid: %v", err)
	}
	got, err := s.GetGrids(ctx, "world", []tile.Address{a, {X: 9, Y: 9, Z: 9}})
	if err != nil {
		t.Fatalf("GetGrids: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one grid, got %d", len(got))
	}
	if id, ok := got[a].FeatureID(1, 0); !ok || id != "SE" {
		t.Fatalf("round-tripped grid lost data: %q %v", id, ok)
	}

	if _, err := Get(ctx, s, "world", tile.Address{Z: 7}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Get(ctx, s, "other-layer", a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("layers must not share grids, got %v", err)
	}
}

func TestRedisStore_RejectsInvalidAndSkipsCorrupt(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	ctx := context.Background()
	a := tile.Address{X: 0, Y: 0, Z: 0}

	if err := s.PutGrid(ctx, "world", a, nil); err == nil {
		t.Fatalf("expected error for nil grid")
	}
	if err := s.PutGrid(ctx, "world", a, &utfgrid.Grid{}); err == nil {
		t.Fatalf("expected error for empty grid")
	}

	if err := mr.Set(Key("world", a, "tpl-a"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := s.GetGrids(ctx, "world", []tile.Address{a})
	if err != nil {
		t.Fatalf("GetGrids: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("corrupt payload should read as a miss")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t, 2*time.Second)
	ctx := context.Background()
	a := tile.Address{X: 1, Y: 1, Z: 1}
	if err := s.PutGrid(ctx, "world", a, sampleGrid("NO")); err != nil {
		t.Fatalf("PutGrid: %v", err)
	}
	mr.FastForward(3 * time.Second)
	if _, err := Get(ctx, s, "world", a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("grid should have expired, got %v", err)
	}
}

type countingStore struct {
	grids map[tile.Address]*utfgrid.Grid
	gets  int
	asked []tile.Address
}

func (c *countingStore) GetGrids(_ context.Context, _ string, addrs []tile.Address) (map[tile.Address]*utfgrid.Grid, error) {
	c.gets++
	c.asked = append(c.asked, addrs...)
	out := map[tile.Address]*utfgrid.Grid{}
	for _, a := range addrs {
		if g, ok := c.grids[a]; ok {
			out[a] = g
		}
	}
	return out, nil
}

func (c *countingStore) PutGrid(_ context.Context, _ string, a tile.Address, g *utfgrid.Grid) error {
	c.grids[a] = g
	return nil
}

func TestCached_ServesRepeatLookupsFromLRU(t *testing.T) {
	a, b := tile.Address{X: 1, Z: 1}, tile.Address{Y: 1, Z: 1}
	next := &countingStore{grids: map[tile.Address]*utfgrid.Grid{a: sampleGrid("a")}}
	s := NewCached(next, 8)
	ctx := context.Background()

	if got, _ := s.GetGrids(ctx, "world", []tile.Address{a, b}); len(got) != 1 {
		t.Fatalf("first lookup: %v", got)
	}
	next.asked = nil
	if got, _ := s.GetGrids(ctx, "world", []tile.Address{a, b}); len(got) != 1 {
		t.Fatalf("second lookup: %v", got)
	}
	if len(next.asked) != 1 || next.asked[0] != b {
		t.Fatalf("only the miss should reach the backing store, asked %v", next.asked)
	}

	next.asked = nil
	if _, err := s.GetGrids(ctx, "world", []tile.Address{a}); err != nil {
		t.Fatalf("GetGrids: %v", err)
	}
	if next.gets != 2 {
		t.Fatalf("fully cached lookup must not reach the backing store (gets=%d)", next.gets)
	}

	if err := s.PutGrid(ctx, "world", b, sampleGrid("b")); err != nil {
		t.Fatalf("PutGrid: %v", err)
	}
	got, _ := s.GetGrids(ctx, "world", []tile.Address{b})
	if id, _ := got[b].FeatureID(1, 0); id != "b" {
		t.Fatalf("write-through not visible: %q", id)
	}
	if next.gets != 2 {
		t.Fatalf("written grid should be served from the LRU (gets=%d)", next.gets)
	}
}
