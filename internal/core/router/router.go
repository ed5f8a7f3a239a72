// Package router serves the HTTP surface: coordinate transforms, tile
// addressing, highlight overlays and feature lookups.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/crs"
	"github.com/mohammed-shakir/gridlight/internal/gridsource"
	"github.com/mohammed-shakir/gridlight/internal/gridstore"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/tileevents"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

const (
	maxJSONBody = 1 << 20
	maxGridBody = 8 << 20
)

// EventSink receives an event for every tile the service resolves.
type EventSink interface {
	Publish(ev tileevents.Event)
}

type Deps struct {
	Logger    *slog.Logger
	Registry  *crs.Registry
	Layer     *tile.Layer
	Highlight *utfgrid.Layer
	Source    gridsource.Source
	Events    EventSink
}

type API struct {
	log       *slog.Logger
	reg       *crs.Registry
	layer     *tile.Layer
	highlight *utfgrid.Layer
	source    gridsource.Source
	events    EventSink
}

func New(d Deps) (*API, error) {
	if d.Registry == nil || d.Layer == nil || d.Highlight == nil || d.Source == nil {
		return nil, errors.New("router: registry, layer, highlight and source are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &API{
		log:       d.Logger,
		reg:       d.Registry,
		layer:     d.Layer,
		highlight: d.Highlight,
		source:    d.Source,
		events:    d.Events,
	}, nil
}

func (a *API) Routes(r chi.Router) {
	r.Get("/transform", a.HandleTransform())
	r.Get("/tile", a.HandleTile())
	r.Get("/overlay", a.HandleOverlay())
	r.Get("/feature", a.HandleFeature())
	r.Get("/highlight", a.HandleGetHighlight())
	r.Post("/highlight", a.HandleSetHighlight())
	r.Put("/highlight/style", a.HandleSetStyle())
	r.Put("/grids/{z}/{x}/{y}", a.HandlePutGrid())
}

func (a *API) publish(kind string, addr tile.Address, url string) {
	if a.events == nil {
		return
	}
	a.events.Publish(tileevents.NewEvent(a.layer.Name(), kind, addr, url))
}

func statusFor(err error) int {
	var tmplErr *tile.TemplateError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, crs.ErrUnknownTransform),
		errors.Is(err, tile.ErrInvalidResolution),
		errors.Is(err, tile.ErrInvalidZoom),
		errors.Is(err, tile.ErrInvalidView),
		errors.Is(err, tile.ErrTooManyTiles):
		return http.StatusBadRequest
	case errors.Is(err, gridstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gridsource.ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &tmplErr):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.WarnContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid json body: %v", err)
	}
	return nil
}

// toLayerCRS re-expresses b in the layer projection.
func (a *API) toLayerCRS(b model.BBox) (model.BBox, error) {
	proj := a.layer.Projection()
	if a.reg.Equals(b.CRS, proj) {
		b.CRS = proj
		return b, nil
	}
	return a.reg.TransformBBox(b, proj)
}

type pointResponse struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	CRS string  `json:"crs"`
}

// HandleTransform re-expresses ?x=&y=[&z=] from ?from= (default: the layer
// projection) into ?to=.
func (a *API) HandleTransform() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		x, err := queryFloat(r, "x", true, 0)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		y, err := queryFloat(r, "y", true, 0)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		z, err := queryFloat(r, "z", false, 0)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		to := strings.TrimSpace(q.Get("to"))
		if to == "" {
			a.writeError(w, r, badRequest("missing required parameter: to"))
			return
		}
		from := strings.TrimSpace(q.Get("from"))
		if from == "" {
			from = a.layer.Projection()
		}

		loc, err := a.reg.TransformLocation(model.Location{Point: model.Point{X: x, Y: y, Z: z}, CRS: from}, to)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pointResponse{X: loc.X, Y: loc.Y, Z: loc.Z, CRS: loc.CRS})
	}
}

type tileResponse struct {
	X   int    `json:"x"`
	Y   int    `json:"y"`
	Z   int    `json:"z"`
	URL string `json:"url"`
}

// HandleTile addresses the tile with bounds ?bbox= at ?res= and renders its
// URL.
func (a *API) HandleTile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
		if raw == "" {
			a.writeError(w, r, badRequest("missing required parameter: bbox"))
			return
		}
		b, err := parseBBOX(raw, a.layer.Projection())
		if err != nil {
			a.writeError(w, r, badRequest("invalid bbox: %v", err))
			return
		}
		res, err := queryFloat(r, "res", true, 0)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if b, err = a.toLayerCRS(b); err != nil {
			a.writeError(w, r, err)
			return
		}

		url, addr, err := a.layer.URLForBounds(b, res)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.publish("tile", addr, url)
		writeJSON(w, http.StatusOK, tileResponse{X: addr.X, Y: addr.Y, Z: addr.Z, URL: url})
	}
}

// viewTiles resolves the viewport for a request and the grids covering it.
func (a *API) viewTiles(r *http.Request, kind string) (utfgrid.LinearViewport, []utfgrid.Tile, error) {
	vpar, err := parseView(r, a.layer.Projection())
	if err != nil {
		return utfgrid.LinearViewport{}, nil, err
	}
	view, err := a.toLayerCRS(vpar.BBox)
	if err != nil {
		return utfgrid.LinearViewport{}, nil, err
	}
	vp, err := utfgrid.NewViewport(view, vpar.Width, vpar.Height)
	if err != nil {
		return utfgrid.LinearViewport{}, nil, badRequest("%v", err)
	}

	refs, err := a.layer.TilesForBounds(vp.View, vp.Resolution())
	if err != nil {
		return utfgrid.LinearViewport{}, nil, err
	}
	tiles, err := a.source.Tiles(r.Context(), refs)
	if err != nil {
		return utfgrid.LinearViewport{}, nil, fmt.Errorf("load grids: %w", err)
	}
	for _, ref := range refs {
		a.publish(kind, ref.Address, "")
	}
	return vp, tiles, nil
}

func etagMatches(header, etag string) bool {
	for c := range strings.SplitSeq(header, ",") {
		if c = strings.TrimSpace(c); c == etag || c == "*" {
			return true
		}
	}
	return false
}

// HandleOverlay renders the highlight overlay for the view as a PNG.
func (a *API) HandleOverlay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vp, tiles, err := a.viewTiles(r, "overlay")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		img := a.highlight.UpdateHighlight(vp, tiles)

		etag := fmt.Sprintf(`"%dx%d-%s"`, vp.Width, vp.Height, gridstore.Checksum(img.Pix))
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			a.writeError(w, r, fmt.Errorf("encode overlay: %w", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

type featureResponse struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleFeature resolves the feature under pixel (?px=, ?py=) of the view.
func (a *API) HandleFeature() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		px, err := queryInt(r, "px")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		py, err := queryInt(r, "py")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		vp, tiles, err := a.viewTiles(r, "feature")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		f, ok := a.highlight.FeatureInfo(vp, tiles, model.Pixel{X: px, Y: py})
		if !ok {
			a.writeError(w, r, fmt.Errorf("no feature at pixel %d,%d: %w", px, py, gridstore.ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, featureResponse(f))
	}
}

type styleResponse struct {
	FillColor string `json:"fillColor"`
	Alpha     uint8  `json:"alpha"`
}

type highlightResponse struct {
	IDs   []string       `json:"ids"`
	Style *styleResponse `json:"style,omitempty"`
}

func (a *API) highlightState() highlightResponse {
	out := highlightResponse{IDs: a.highlight.Highlighted()}
	if out.IDs == nil {
		out.IDs = []string{}
	}
	if s, ok := a.highlight.Style(); ok {
		out.Style = &styleResponse{FillColor: s.Hex(), Alpha: s.A}
	}
	return out
}

func (a *API) HandleGetHighlight() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, a.highlightState())
	}
}

type highlightRequest struct {
	IDs          []string `json:"ids"`
	KeepExisting bool     `json:"keepExisting"`
}

// HandleSetHighlight replaces the highlighted ids, or adds to them when
// keepExisting is set.
func (a *API) HandleSetHighlight() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req highlightRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.highlight.HighlightFeatures(req.IDs, req.KeepExisting)
		writeJSON(w, http.StatusOK, a.highlightState())
	}
}

type styleRequest struct {
	FillColor   string   `json:"fillColor"`
	FillOpacity *float64 `json:"fillOpacity"`
}

// HandleSetStyle installs the highlight fill. A missing opacity is opaque.
func (a *API) HandleSetStyle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req styleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		opacity := math.NaN()
		if req.FillOpacity != nil {
			opacity = *req.FillOpacity
		}
		if err := a.highlight.SetHighlightStyle(req.FillColor, opacity); err != nil {
			a.writeError(w, r, badRequest("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, a.highlightState())
	}
}

func parseAddress(r *http.Request, layer *tile.Layer) (tile.Address, error) {
	var v [3]int
	for i, name := range []string{"z", "x", "y"} {
		n, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			return tile.Address{}, badRequest("invalid %s: %v", name, err)
		}
		v[i] = n
	}
	addr := tile.Address{Z: v[0], X: v[1], Y: v[2]}
	cols, rows, ok := layer.GridSize(addr.Z)
	if !ok {
		return tile.Address{}, badRequest("zoom %d is outside the layer resolution series", addr.Z)
	}
	if addr.X < 0 || addr.Y < 0 || addr.X >= cols || addr.Y >= rows {
		return tile.Address{}, badRequest("tile %s is outside the %dx%d grid at zoom %d", addr, cols, rows, addr.Z)
	}
	return addr, nil
}

// HandlePutGrid stores an uploaded grid payload for one tile.
func (a *API) HandlePutGrid() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wr, ok := a.source.(gridsource.Writer)
		if !ok {
			a.writeError(w, r, gridsource.ErrReadOnly)
			return
		}
		addr, err := parseAddress(r, a.layer)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGridBody))
		if err != nil {
			a.writeError(w, r, badRequest("read body: %v", err))
			return
		}
		g, err := utfgrid.DecodeGrid(body)
		if err != nil {
			a.writeError(w, r, badRequest("%v", err))
			return
		}
		if err := wr.PutGrid(r.Context(), addr, g); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.log.DebugContext(r.Context(), "grid stored", "tile", addr.String(), "rows", g.Rows())
		w.WriteHeader(http.StatusNoContent)
	}
}
