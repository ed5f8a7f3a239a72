// Package crs holds coordinate reference system metadata and the transforms
// registered between CRS codes.
package crs

import (
	"strings"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

type Units string

const (
	UnitsDegrees Units = "degrees"
	UnitsMeters  Units = "m"
)

// CRS describes a coordinate system. Values are immutable once handed to a
// Registry; the registry replaces entries wholesale and never edits them.
type CRS struct {
	Code  string
	Units Units
	// Extent is the validity extent in the CRS's own coordinates, nil when unknown.
	Extent *model.BBox
	// YX is set when the first ordinate is northing.
	YX bool
}

func (c CRS) String() string { return c.Code }

// HasExtent reports whether the validity extent is known.
func (c CRS) HasExtent() bool { return c.Extent != nil }

// ExtentBBox returns a copy of the validity extent tagged with the CRS code.
func (c CRS) ExtentBBox() (model.BBox, bool) {
	if c.Extent == nil {
		return model.BBox{}, false
	}
	b := *c.Extent
	b.CRS = c.Code
	return b, true
}

func (c CRS) withExtentFrom(src CRS) CRS {
	out := c
	if src.Extent != nil {
		ext := *src.Extent
		ext.CRS = c.Code
		out.Extent = &ext
	}
	if out.Units == "" {
		out.Units = src.Units
	}
	return out
}

func normalize(code string) string {
	return strings.TrimSpace(code)
}

func extent(minX, minY, maxX, maxY float64) *model.BBox {
	return &model.BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Defaults are the CRSs a default registry knows before any aliasing.
// Identity registrations copy these extents onto their aliases.
func Defaults() []CRS {
	return []CRS{
		{Code: "EPSG:4326", Units: UnitsDegrees, Extent: extent(-180, -90, 180, 90), YX: true},
		{Code: "CRS:84", Units: UnitsDegrees, Extent: extent(-180, -90, 180, 90)},
		{Code: "EPSG:900913", Units: UnitsMeters, Extent: extent(-Pole, -Pole, Pole, Pole)},
	}
}
