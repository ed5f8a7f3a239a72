package utfgrid

import (
	"image"
	"time"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/tile"
)

// Tile is one visible tile with its decoded grid. Bounds are the tile's
// on-screen bounds in the viewport CRS. Resolution is pixels per grid cell
// side; zero means tile.DefaultUTFGridResolution.
type Tile struct {
	Address    tile.Address
	Bounds     model.BBox
	Grid       *Grid
	Resolution int
}

func (t Tile) res() int {
	if t.Resolution <= 0 {
		return tile.DefaultUTFGridResolution
	}
	return t.Resolution
}

// FillBlock overwrites the size x size block at (x, y) with c, clipped to buf.
func FillBlock(buf *image.NRGBA, x, y, size int, c Style) {
	r := image.Rect(x, y, x+size, y+size).Intersect(buf.Rect)
	if r.Empty() {
		return
	}
	for py := r.Min.Y; py < r.Max.Y; py++ {
		i := buf.PixOffset(r.Min.X, py)
		for px := r.Min.X; px < r.Max.X; px++ {
			buf.Pix[i+0] = c.R
			buf.Pix[i+1] = c.G
			buf.Pix[i+2] = c.B
			buf.Pix[i+3] = c.A
			i += 4
		}
	}
}

func newBuffer(s model.Size) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, max(s.W, 0), max(s.H, 0)))
}

// Composite paints every grid cell whose feature is in set with style and
// leaves all other pixels transparent. It redraws from scratch on each call
// and returns a buffer owned by the caller.
func Composite(vp Viewport, style Style, set *HighlightSet, tiles []Tile) *image.NRGBA {
	size := vp.Size()
	buf := newBuffer(size)
	if set.Len() == 0 || len(tiles) == 0 {
		return buf
	}

	start := time.Now()
	painted := 0
	view := vp.Extent()
	for _, t := range tiles {
		if t.Grid == nil || !t.Bounds.Intersects(view) {
			continue
		}
		origin := vp.PixelFromCoord(t.Bounds.TopLeft())
		res := t.res()
		for gy, row := range t.Grid.Grid {
			py := origin.Y + gy*res
			if py < 0 || py >= size.H {
				continue
			}
			for gx := range row {
				px := origin.X + gx*res
				if px < 0 || px >= size.W {
					continue
				}
				id, ok := t.Grid.FeatureID(gx, gy)
				if !ok || !set.Contains(id) {
					continue
				}
				FillBlock(buf, px, py, res, style)
				painted++
			}
		}
	}
	observability.ObserveComposite(time.Since(start).Seconds(), painted)
	return buf
}

// Locate finds the tile and grid cell under viewport pixel p. The first tile
// whose grid covers p wins.
func Locate(vp Viewport, tiles []Tile, p model.Pixel) (Tile, int, int, bool) {
	if !vp.Size().Contains(p) {
		return Tile{}, 0, 0, false
	}
	for _, t := range tiles {
		if t.Grid == nil {
			continue
		}
		origin := vp.PixelFromCoord(t.Bounds.TopLeft())
		res := t.res()
		dx, dy := p.X-origin.X, p.Y-origin.Y
		if dx < 0 || dy < 0 {
			continue
		}
		gx, gy := dx/res, dy/res
		if _, found := t.Grid.Code(gx, gy); found {
			return t, gx, gy, true
		}
	}
	return Tile{}, 0, 0, false
}

// FeatureID returns the id of the feature under viewport pixel p.
func FeatureID(vp Viewport, tiles []Tile, p model.Pixel) (string, bool) {
	t, gx, gy, ok := Locate(vp, tiles, p)
	if !ok {
		return "", false
	}
	return t.Grid.FeatureID(gx, gy)
}

// FeatureInfo returns the id and attributes of the feature under p.
func FeatureInfo(vp Viewport, tiles []Tile, p model.Pixel) (Feature, bool) {
	t, gx, gy, ok := Locate(vp, tiles, p)
	if !ok {
		return Feature{}, false
	}
	return t.Grid.FeatureInfo(gx, gy)
}
