package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/crs"
	"github.com/mohammed-shakir/gridlight/internal/gridsource"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/tileevents"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

type fakeSource struct {
	err  error
	mu   sync.Mutex
	puts map[tile.Address]*utfgrid.Grid
}

func (f *fakeSource) Tiles(_ context.Context, refs []tile.TileRef) ([]utfgrid.Tile, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]utfgrid.Tile, 0, len(refs))
	for _, r := range refs {
		out = append(out, utfgrid.Tile{
			Address: r.Address,
			Bounds:  r.Bounds,
			Grid: &utfgrid.Grid{
				Grid: [][]int{{1, 0}, {0, 0}},
				Keys: []string{"", "A"},
				Data: map[string]json.RawMessage{"A": json.RawMessage(`{"n":1}`)},
			},
			Resolution: 128,
		})
	}
	return out, nil
}

func (f *fakeSource) PutGrid(_ context.Context, a tile.Address, g *utfgrid.Grid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[tile.Address]*utfgrid.Grid{}
	}
	f.puts[a] = g
	return nil
}

func (f *fakeSource) Ready(context.Context) error { return nil }
func (f *fakeSource) Close() error                { return nil }

// tilesOnly hides PutGrid so the source does not accept uploads.
type tilesOnly struct{ gridsource.Source }

type recordingSink struct {
	mu     sync.Mutex
	events []tileevents.Event
}

func (s *recordingSink) Publish(ev tileevents.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

type harness struct {
	srv    http.Handler
	source *fakeSource
	sink   *recordingSink
}

func newHarness(t *testing.T, reg *crs.Registry) *harness {
	t.Helper()
	return newHarnessWith(t, reg, nil)
}

func newHarnessWith(t *testing.T, reg *crs.Registry, wrap func(gridsource.Source) gridsource.Source) *harness {
	t.Helper()
	return buildHarness(t, reg, tile.LayerConfig{
		Extent:      &model.BBox{MinX: 0, MinY: 0, MaxX: 256, MaxY: 256, CRS: "EPSG:900913"},
		Resolutions: []float64{1},
	}, wrap)
}

func buildHarness(t *testing.T, reg *crs.Registry, cfg tile.LayerConfig, wrap func(gridsource.Source) gridsource.Source) *harness {
	t.Helper()
	if reg == nil {
		reg = crs.NewDefaultRegistry()
	}
	cfg.Name = "world"
	cfg.Templates = []string{"/g/{z}/{x}/{y}.json"}
	layer, err := tile.NewLayer(reg, cfg)
	if err != nil {
		t.Fatalf("NewLayer: %v", err)
	}
	h := &harness{source: &fakeSource{}, sink: &recordingSink{}}
	var src gridsource.Source = h.source
	if wrap != nil {
		src = wrap(h.source)
	}
	api, err := New(Deps{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry:  reg,
		Layer:     layer,
		Highlight: utfgrid.NewLayer(nil),
		Source:    src,
		Events:    h.sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	api.Routes(r)
	h.srv = r
	return h
}

func (h *harness) do(method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.srv.ServeHTTP(rr, req)
	return rr
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}

func TestParseBBOX(t *testing.T) {
	b, err := parseBBOX("1,2,3,4", "EPSG:900913")
	if err != nil || b.CRS != "EPSG:900913" || b.MaxY != 4 {
		t.Fatalf("b=%+v err=%v", b, err)
	}
	b, err = parseBBOX(" -10,-5,10,5 , EPSG:4326", "EPSG:900913")
	if err != nil || b.CRS != "EPSG:4326" || b.MinX != -10 {
		t.Fatalf("b=%+v err=%v", b, err)
	}
	for _, code := range []string{"urn:ogc:def:crs:EPSG:6.6:4326", "CRS:84", "EPSG:3857"} {
		b, err = parseBBOX("10,20,11,21, "+code, "EPSG:900913")
		if err != nil || b.CRS != code {
			t.Fatalf("%s: b=%+v err=%v", code, b, err)
		}
	}
	for _, bad := range []string{"1,2,3", "1,2,x,4", "3,2,1,4", "1,2,1,4", "1,2,3,4,5,6"} {
		if _, err := parseBBOX(bad, "EPSG:900913"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestHandleTransform(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/transform?x=180&y=0&from=EPSG:4326&to=EPSG:900913", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var p pointResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(p.X-crs.Pole) > 1e-3 || math.Abs(p.Y) > 1e-6 || p.CRS != "EPSG:900913" {
		t.Fatalf("point=%+v", p)
	}

	for _, q := range []string{"x=1&y=2", "x=a&y=2&to=EPSG:4326", "y=2&to=EPSG:4326", "x=1&y=2&z=q&to=EPSG:4326"} {
		if rr := h.do(http.MethodGet, "/transform?"+q, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, rr.Code)
		}
	}
}

func TestHandleTransform_StrictUnknownPair(t *testing.T) {
	h := newHarness(t, crs.NewDefaultRegistry(crs.WithStrict(true)))
	rr := h.do(http.MethodGet, "/transform?x=1&y=2&from=EPSG:4326&to=EPSG:27700", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleTile(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/tile?bbox=0,0,256,256&res=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got tileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (tileResponse{X: 0, Y: 0, Z: 0, URL: "/g/0/0/0.json"}) {
		t.Fatalf("tile=%+v", got)
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Kind != "tile" || h.sink.events[0].URL != "/g/0/0/0.json" {
		t.Fatalf("events=%+v", h.sink.events)
	}

	for _, q := range []string{"res=1", "bbox=0,0,256,256", "bbox=0,0,256,256&res=0", "bbox=0,0,256&res=1"} {
		if rr := h.do(http.MethodGet, "/tile?"+q, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, rr.Code)
		}
	}
}

func TestHandleTile_BBoxInOtherCRS(t *testing.T) {
	reg := crs.NewDefaultRegistry()
	h := newHarness(t, reg)
	for _, code := range crs.GeographicCodes {
		geo, err := reg.TransformBBox(model.BBox{MinX: 256, MinY: 0, MaxX: 512, MaxY: 256, CRS: "EPSG:900913"}, code)
		if err != nil {
			t.Fatalf("%s: %v", code, err)
		}
		q := url.Values{}
		q.Set("bbox", fmt.Sprintf("%.12f,%.12f,%.12f,%.12f,%s", geo.MinX, geo.MinY, geo.MaxX, geo.MaxY, code))
		q.Set("res", "1")
		rr := h.do(http.MethodGet, "/tile?"+q.Encode(), "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status=%d body=%s", code, rr.Code, rr.Body.String())
		}
		var got tileResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.X != 1 || got.Y != 0 || got.Z != 0 {
			t.Fatalf("%s: tile=%+v", code, got)
		}
	}
}

func TestHandleOverlay_PaintsHighlightedCells(t *testing.T) {
	h := newHarness(t, nil)

	if rr := h.do(http.MethodPut, "/highlight/style", `{"fillColor":"#ff0000","fillOpacity":1}`); rr.Code != http.StatusOK {
		t.Fatalf("style: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodPost, "/highlight", `{"ids":["A"]}`); rr.Code != http.StatusOK {
		t.Fatalf("highlight: %d %s", rr.Code, rr.Body.String())
	}

	const target = "/overlay?bbox=0,0,256,256&width=256&height=256"
	rr := h.do(http.MethodGet, target, "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d ct=%q body=%s", rr.Code, rr.Header().Get("Content-Type"), rr.Body.String())
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	img, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Fatalf("bounds=%v", b)
	}
	at := func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	}
	if c := at(10, 10); c != (color.NRGBA{R: 255, A: 255}) {
		t.Fatalf("highlighted pixel=%v", c)
	}
	if c := at(127, 127); c.A != 255 {
		t.Fatalf("cell edge should be painted, got %v", c)
	}
	if c := at(200, 200); c.A != 0 {
		t.Fatalf("unhighlighted pixel=%v", c)
	}
	if c := at(128, 10); c.A != 0 {
		t.Fatalf("neighbouring cell painted: %v", c)
	}

	rr = h.do(http.MethodGet, target, "", "If-None-Match", etag)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}

	h.do(http.MethodPost, "/highlight", `{"ids":[]}`)
	rr = h.do(http.MethodGet, target, "", "If-None-Match", etag)
	if rr.Code != http.StatusOK || rr.Header().Get("ETag") == etag {
		t.Fatalf("cleared highlight must change the overlay: %d", rr.Code)
	}

	overlays := 0
	for _, ev := range h.sink.events {
		if ev.Kind == "overlay" {
			overlays++
		}
	}
	if overlays != 3 {
		t.Fatalf("expected one overlay event per request, got %d", overlays)
	}
}

func TestHandleOverlay_Errors(t *testing.T) {
	h := newHarness(t, nil)
	for _, q := range []string{
		"width=10&height=10",
		"bbox=0,0,256,256&height=10",
		"bbox=0,0,256,256&width=0&height=10",
		"bbox=0,0,256,256&width=100000&height=1",
	} {
		if rr := h.do(http.MethodGet, "/overlay?"+q, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, rr.Code)
		}
	}

	h.source.err = errors.New("redis down")
	if rr := h.do(http.MethodGet, "/overlay?bbox=0,0,256,256&width=16&height=16", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rr.Code)
	}
	h.source.err = context.DeadlineExceeded
	if rr := h.do(http.MethodGet, "/overlay?bbox=0,0,256,256&width=16&height=16", ""); rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestHandleFeature(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/feature?bbox=0,0,256,256&width=256&height=256&px=10&py=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var f struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.ID != "A" || f.Data["n"] != float64(1) {
		t.Fatalf("feature=%+v", f)
	}

	if rr := h.do(http.MethodGet, "/feature?bbox=0,0,256,256&width=256&height=256&px=200&py=200", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("empty cell: status=%d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/feature?bbox=0,0,256,256&width=256&height=256&px=300&py=10", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("off-screen pixel: status=%d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/feature?bbox=0,0,256,256&width=256&height=256&py=10", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing px: status=%d", rr.Code)
	}
}

func TestHighlightEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/highlight", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"ids":[]}` {
		t.Fatalf("initial state: %d %s", rr.Code, rr.Body.String())
	}

	h.do(http.MethodPost, "/highlight", `{"ids":["A","B"]}`)
	rr = h.do(http.MethodPost, "/highlight", `{"ids":["C","A"],"keepExisting":true}`)
	var st highlightResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(st.IDs, ",") != "A,B,C,A" || st.Style != nil {
		t.Fatalf("state=%+v", st)
	}

	rr = h.do(http.MethodPut, "/highlight/style", `{"fillColor":"#00ff00"}`)
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Style == nil || st.Style.FillColor != "#00ff00" || st.Style.Alpha != 255 {
		t.Fatalf("missing opacity should be opaque: %+v", st.Style)
	}

	for _, body := range []string{`{"fillColor":"green"}`, `{"fillColour":"#00ff00"}`, `{`} {
		if rr := h.do(http.MethodPut, "/highlight/style", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", body, rr.Code)
		}
	}
	if rr := h.do(http.MethodPost, "/highlight", `{"ids":"A"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestHandlePutGrid(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPut, "/grids/0/0/0", `{"grid":[[0,1]],"keys":["","SE"]}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	g := h.source.puts[tile.Address{}]
	if g == nil {
		t.Fatalf("grid not stored")
	}
	if id, _ := g.FeatureID(1, 0); id != "SE" {
		t.Fatalf("stored grid id=%q", id)
	}

	cases := map[string]string{
		"/grids/1/0/0": `{"grid":[[0]]}`,
		"/grids/0/1/0": `{"grid":[[0]]}`,
		"/grids/0/a/0": `{"grid":[[0]]}`,
		"/grids/0/0/0": `{"grid":[]}`,
	}
	for target, body := range cases {
		if rr := h.do(http.MethodPut, target, body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: status=%d", target, body, rr.Code)
		}
	}
}

func TestHandlePutGrid_NonSquareLayer(t *testing.T) {
	h := buildHarness(t, nil, tile.LayerConfig{
		Extent:      &model.BBox{MinX: 0, MinY: 0, MaxX: 1024, MaxY: 512, CRS: "EPSG:900913"},
		Resolutions: []float64{2, 1},
	}, nil)
	cases := map[string]int{
		"/grids/0/1/0": http.StatusNoContent,
		"/grids/0/0/1": http.StatusBadRequest,
		"/grids/1/3/1": http.StatusNoContent,
		"/grids/1/3/2": http.StatusBadRequest,
		"/grids/1/4/0": http.StatusBadRequest,
		"/grids/2/0/0": http.StatusBadRequest,
	}
	for target, want := range cases {
		if rr := h.do(http.MethodPut, target, `{"grid":[[0]]}`); rr.Code != want {
			t.Fatalf("%s: status=%d want %d body=%s", target, rr.Code, want, rr.Body.String())
		}
	}
	if h.source.puts[tile.Address{Z: 1, X: 3, Y: 1}] == nil {
		t.Fatalf("grid 1/3/1 not stored")
	}
}

func TestHandleOverlay_HugeViewOnWrappingLayer(t *testing.T) {
	h := buildHarness(t, nil, tile.LayerConfig{
		Extent:       &model.BBox{MinX: 0, MinY: 0, MaxX: 256, MaxY: 256, CRS: "EPSG:900913"},
		Resolutions:  []float64{1},
		WrapDateLine: true,
	}, nil)
	for _, target := range []string{
		"/overlay?bbox=-1e300,-1,1e300,1&width=1&height=1",
		"/overlay?bbox=1e300,0,1.0000000001e300,256&width=1&height=1",
		"/feature?bbox=-1e300,-1,1e300,1&width=1&height=1&px=0&py=0",
	} {
		if rr := h.do(http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", target, rr.Code, rr.Body.String())
		}
	}
}

func TestHandlePutGrid_ReadOnlySource(t *testing.T) {
	h := newHarnessWith(t, nil, func(s gridsource.Source) gridsource.Source { return tilesOnly{s} })
	if rr := h.do(http.MethodPut, "/grids/0/0/0", `{"grid":[[0]]}`); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
