package crs

import (
	"math"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// Pole is the spherical Mercator half circumference in metres.
const Pole = 20037508.34

// Transform maps a point from one CRS to another. Points are passed by value,
// so an implementation cannot mutate its caller's input.
type Transform interface {
	Apply(p model.Point) model.Point
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc func(p model.Point) model.Point

func (f TransformFunc) Apply(p model.Point) model.Point { return f(p) }

type identity struct{}

func (identity) Apply(p model.Point) model.Point { return p }

// Identity declares two codes as aliases of the same system.
var Identity Transform = identity{}

// IsIdentity reports whether t is the Identity transform.
func IsIdentity(t Transform) bool {
	_, ok := t.(identity)
	return ok
}

// ForwardMercator maps lon/lat degrees to spherical Mercator metres. Z is kept.
var ForwardMercator Transform = TransformFunc(func(p model.Point) model.Point {
	return model.Point{
		X: p.X * Pole / 180,
		Y: math.Log(math.Tan((90+p.Y)*math.Pi/360)) / math.Pi * Pole,
		Z: p.Z,
	}
})

// InverseMercator maps spherical Mercator metres back to lon/lat degrees.
var InverseMercator Transform = TransformFunc(func(p model.Point) model.Point {
	return model.Point{
		X: 180 * p.X / Pole,
		Y: 180 / math.Pi * (2*math.Atan(math.Exp((p.Y/Pole)*math.Pi)) - math.Pi/2),
		Z: p.Z,
	}
})

var (
	// MercatorCodes all name the same web Mercator projection.
	MercatorCodes = []string{"EPSG:900913", "EPSG:3857", "EPSG:102113", "EPSG:102100"}
	// GeographicCodes all name WGS84 lon/lat.
	GeographicCodes = []string{"CRS:84", "urn:ogc:def:crs:EPSG:6.6:4326", "EPSG:4326"}
)

// RegisterMercator wires every geographic code to every Mercator code and
// aliases the codes inside each family with Identity.
func RegisterMercator(r *Registry) {
	for _, m := range MercatorCodes {
		for _, g := range GeographicCodes {
			r.Register(g, m, ForwardMercator)
			r.Register(m, g, InverseMercator)
		}
	}
	alias(r, GeographicCodes)
	alias(r, MercatorCodes)
}

func alias(r *Registry, codes []string) {
	for i, code := range codes {
		for _, other := range codes[i+1:] {
			r.Register(code, other, Identity)
			r.Register(other, code, Identity)
		}
	}
}
