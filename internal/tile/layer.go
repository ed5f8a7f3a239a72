package tile

import (
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/crs"
)

const (
	DefaultTileSize          = 256
	DefaultProjection        = "EPSG:900913"
	DefaultMaxZoom           = 18
	DefaultUTFGridResolution = 2

	// maxTilesPerView bounds TilesForBounds for absurd viewport/resolution pairs.
	maxTilesPerView = 4096
	// maxTileIndex bounds any column or row index the layer will address.
	maxTileIndex = 1 << 40
)

// LayerConfig is the construction input for a Layer. Zero values take the
// defaults above; Extent defaults to the validity extent of Projection.
type LayerConfig struct {
	Name              string
	Templates         []string
	TileSize          int
	Projection        string
	Extent            *model.BBox
	Resolutions       []float64
	MaxZoom           int
	WrapDateLine      bool
	UTFGridResolution int
}

// Layer is an immutable XYZ tiling scheme bound to one or more URL templates.
type Layer struct {
	name        string
	templates   []string
	tileSize    int
	projection  string
	extent      model.BBox
	resolutions []float64
	wrap        bool
	utfRes      int
}

// TileRef is a visible tile: its (possibly wrapped) address and the bounds it
// occupies in the view, which for wrapped columns lie outside the extent.
type TileRef struct {
	Address Address
	Bounds  model.BBox
}

func NewLayer(reg *crs.Registry, cfg LayerConfig) (*Layer, error) {
	l := &Layer{
		name:       strings.TrimSpace(cfg.Name),
		tileSize:   cfg.TileSize,
		projection: strings.TrimSpace(cfg.Projection),
		wrap:       cfg.WrapDateLine,
		utfRes:     cfg.UTFGridResolution,
	}
	for _, t := range cfg.Templates {
		if t = strings.TrimSpace(t); t != "" {
			l.templates = append(l.templates, t)
		}
	}
	if len(l.templates) == 0 {
		return nil, fmt.Errorf("%w: template", ErrMissingProperty)
	}
	for _, t := range l.templates {
		if _, err := RenderURL(t, Address{}); err != nil {
			return nil, err
		}
	}

	switch {
	case l.tileSize == 0:
		l.tileSize = DefaultTileSize
	case l.tileSize < 0:
		return nil, fmt.Errorf("layer %q: %d: %w", l.name, l.tileSize, ErrInvalidTileSize)
	}
	switch {
	case l.utfRes == 0:
		l.utfRes = DefaultUTFGridResolution
	case l.utfRes < 0:
		return nil, fmt.Errorf("layer %q: utfgrid resolution %d must be positive", l.name, l.utfRes)
	}
	if l.projection == "" {
		l.projection = DefaultProjection
	}

	if cfg.Extent != nil {
		l.extent = *cfg.Extent
		l.extent.CRS = l.projection
	} else {
		def, ok := reg.Lookup(l.projection)
		if !ok {
			return nil, fmt.Errorf("%w: extent (projection %s is not registered)", ErrMissingProperty, l.projection)
		}
		ext, ok := def.ExtentBBox()
		if !ok {
			return nil, fmt.Errorf("%w: extent (projection %s has no validity extent)", ErrMissingProperty, l.projection)
		}
		l.extent = ext
	}
	if _, err := model.NewBBox(l.extent.MinX, l.extent.MinY, l.extent.MaxX, l.extent.MaxY, l.projection); err != nil {
		return nil, fmt.Errorf("layer %q extent: %w", l.name, err)
	}
	if l.extent.Width() <= 0 {
		return nil, fmt.Errorf("layer %q extent has zero width", l.name)
	}

	if len(cfg.Resolutions) > 0 {
		l.resolutions = append([]float64(nil), cfg.Resolutions...)
	} else {
		maxZoom := cfg.MaxZoom
		if maxZoom == 0 {
			maxZoom = DefaultMaxZoom
		}
		if maxZoom < 0 || maxZoom > 30 {
			return nil, fmt.Errorf("layer %q: max zoom %d out of range", l.name, maxZoom)
		}
		maxRes := l.extent.Width() / float64(l.tileSize)
		l.resolutions = make([]float64, maxZoom+1)
		for z := range l.resolutions {
			l.resolutions[z] = maxRes / math.Exp2(float64(z))
		}
	}
	for z, r := range l.resolutions {
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("layer %q zoom %d: %g: %w", l.name, z, r, ErrInvalidResolution)
		}
		if z > 0 && r >= l.resolutions[z-1] {
			return nil, fmt.Errorf("layer %q: resolutions must decrease (zoom %d): %w", l.name, z, ErrInvalidResolution)
		}
	}
	return l, nil
}

func (l *Layer) Name() string           { return l.name }
func (l *Layer) Projection() string     { return l.projection }
func (l *Layer) Extent() model.BBox     { return l.extent }
func (l *Layer) TileSize() int          { return l.tileSize }
func (l *Layer) WrapDateLine() bool     { return l.wrap }
func (l *Layer) UTFGridResolution() int { return l.utfRes }
func (l *Layer) Templates() []string    { return append([]string(nil), l.templates...) }
func (l *Layer) Resolutions() []float64 { return append([]float64(nil), l.resolutions...) }

func (l *Layer) Resolution(z int) (float64, bool) {
	if z < 0 || z >= len(l.resolutions) {
		return 0, false
	}
	return l.resolutions[z], true
}

// ServerZoom returns the index of the series resolution closest to res on a
// log scale. Ties go to the lower zoom.
func (l *Layer) ServerZoom(res float64) (int, error) {
	if !(res > 0) || math.IsInf(res, 0) {
		return 0, fmt.Errorf("server zoom: %g: %w", res, ErrInvalidResolution)
	}
	best, bestDist := 0, math.Inf(1)
	for z, r := range l.resolutions {
		if d := math.Abs(math.Log(r / res)); d < bestDist {
			best, bestDist = z, d
		}
	}
	return best, nil
}

// XYZ returns the address of the tile with the given bounds at res.
func (l *Layer) XYZ(tileBounds model.BBox, res float64) (Address, error) {
	z, err := l.ServerZoom(res)
	if err != nil {
		return Address{}, err
	}
	return XYZ(tileBounds, l.extent, res, l.tileSize, z, l.wrap)
}

// URL renders the URL of a, picking among several templates by URLKey.
func (l *Layer) URL(a Address) (string, error) {
	tmpl := l.templates[0]
	if len(l.templates) > 1 {
		tmpl = SelectURL(URLKey(a), l.templates)
	}
	u, err := RenderURL(tmpl, a)
	if err != nil {
		observability.IncTileURL("template_error")
		return "", err
	}
	observability.IncTileURL("rendered")
	return u, nil
}

// URLForBounds addresses tileBounds at res and renders its URL.
func (l *Layer) URLForBounds(tileBounds model.BBox, res float64) (string, Address, error) {
	a, err := l.XYZ(tileBounds, res)
	if err != nil {
		return "", Address{}, err
	}
	u, err := l.URL(a)
	if err != nil {
		return "", a, err
	}
	return u, a, nil
}

// TileBounds returns the bounds of a inside the layer extent.
func (l *Layer) TileBounds(a Address) (model.BBox, error) {
	r, ok := l.Resolution(a.Z)
	if !ok {
		return model.BBox{}, fmt.Errorf("tile bounds: zoom %d not in resolution series", a.Z)
	}
	return l.columnBounds(a.X, a.Y, r), nil
}

func (l *Layer) columnBounds(col, row int, r float64) model.BBox {
	span := r * float64(l.tileSize)
	minX := l.extent.MinX + float64(col)*span
	maxY := l.extent.MaxY - float64(row)*span
	return model.BBox{MinX: minX, MinY: maxY - span, MaxX: minX + span, MaxY: maxY, CRS: l.projection}
}

// GridSize returns the number of tile columns and rows covering the extent
// at zoom z.
func (l *Layer) GridSize(z int) (cols, rows int, ok bool) {
	r, ok := l.Resolution(z)
	if !ok {
		return 0, 0, false
	}
	cols, rows = l.gridSize(r * float64(l.tileSize))
	return cols, rows, true
}

func (l *Layer) gridSize(span float64) (cols, rows int) {
	count := func(length float64) int {
		return int(math.Min(math.Ceil(length/span-1e-9), maxTileIndex))
	}
	return count(l.extent.Width()), count(l.extent.Height())
}

func finiteBBox(b model.BBox) bool {
	for _, v := range [...]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// TilesForBounds lists the tiles covering view at the series resolution
// closest to res, row by row from the top-left. Rows are clipped to the
// extent; columns are clipped too unless the layer wraps the antimeridian.
func (l *Layer) TilesForBounds(view model.BBox, res float64) ([]TileRef, error) {
	z, err := l.ServerZoom(res)
	if err != nil {
		return nil, err
	}
	if !finiteBBox(view) {
		return nil, fmt.Errorf("tiles for bounds: %v: %w", view, ErrInvalidView)
	}
	r := l.resolutions[z]
	span := r * float64(l.tileSize)
	cols, rows := l.gridSize(span)

	// Index ranges stay in float64 until they are known to be small.
	x0 := math.Floor((view.MinX - l.extent.MinX) / span)
	x1 := math.Max(math.Ceil((view.MaxX-l.extent.MinX)/span)-1, x0)
	y0 := math.Floor((l.extent.MaxY - view.MaxY) / span)
	y1 := math.Max(math.Ceil((l.extent.MaxY-view.MinY)/span)-1, y0)
	y0, y1 = math.Max(y0, 0), math.Min(y1, float64(rows-1))
	if !l.wrap {
		x0, x1 = math.Max(x0, 0), math.Min(x1, float64(cols-1))
	}
	if x1 < x0 || y1 < y0 {
		return nil, nil
	}
	if n := (x1 - x0 + 1) * (y1 - y0 + 1); n > maxTilesPerView {
		return nil, fmt.Errorf("tiles for bounds: %g tiles: %w", n, ErrTooManyTiles)
	}
	if !(math.Abs(x0) <= maxTileIndex && math.Abs(x1) <= maxTileIndex) {
		return nil, fmt.Errorf("tiles for bounds: columns %g..%g: %w", x0, x1, ErrInvalidView)
	}

	c0, c1, r0, r1 := int(x0), int(x1), int(y0), int(y1)
	out := make([]TileRef, 0, (c1-c0+1)*(r1-r0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			a := Address{X: col, Y: row, Z: z}
			if l.wrap {
				a.X = wrapX(col, z)
			}
			out = append(out, TileRef{Address: a, Bounds: l.columnBounds(col, row, r)})
		}
	}
	return out, nil
}
