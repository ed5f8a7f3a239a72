// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Point is a coordinate in some CRS. Z is optional and passed through by
// transforms that do not use it.
type Point struct {
	X, Y, Z float64
}

// Location is a point tagged with the code of the CRS it is expressed in.
type Location struct {
	Point
	CRS string
}

type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	CRS        string
}

// NewBBox validates the ordering invariant (min <= max on both axes).
func NewBBox(minX, minY, maxX, maxY float64, crs string) (BBox, error) {
	if math.IsNaN(minX) || math.IsNaN(minY) || math.IsNaN(maxX) || math.IsNaN(maxY) {
		return BBox{}, errors.New("bbox coordinates must be numbers")
	}
	if minX > maxX || minY > maxY {
		return BBox{}, fmt.Errorf("bbox must satisfy minX<=maxX and minY<=maxY (got %g,%g,%g,%g)", minX, minY, maxX, maxY)
	}
	return BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, CRS: crs}, nil
}

// BBoxFromPoints returns the componentwise min/max envelope of pts.
func BBoxFromPoints(crs string, pts ...Point) BBox {
	if len(pts) == 0 {
		return BBox{CRS: crs}
	}
	b := BBox{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y, CRS: crs}
	for _, p := range pts[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// String representation matching wms bbox format
func (b BBox) String() string {
	if b.CRS == "" {
		return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
}

func (b BBox) Width() float64  { return b.MaxX - b.MinX }
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Corners returns lower-left, lower-right, upper-right, upper-left.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MaxX, Y: b.MaxY},
		{X: b.MinX, Y: b.MaxY},
	}
}

// TopLeft is the corner tile and pixel origins are measured from.
func (b BBox) TopLeft() Point { return Point{X: b.MinX, Y: b.MaxY} }

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinX, b.MinY},
		Max: orb.Point{b.MaxX, b.MaxY},
	}
}

// Intersects reports whether the boxes overlap; shared edges count.
func (b BBox) Intersects(o BBox) bool {
	return b.Bound().Intersects(o.Bound())
}

// Pixel is an integer position in viewport space, origin top-left.
type Pixel struct {
	X, Y int
}

type Size struct {
	W, H int
}

func (s Size) Contains(p Pixel) bool {
	return p.X >= 0 && p.X < s.W && p.Y >= 0 && p.Y < s.H
}
