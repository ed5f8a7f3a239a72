package crs

import (
	"github.com/wroge/wgs84"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// FromFunc wraps a three-ordinate coordinate function, the shape used by
// wroge/wgs84, as a Transform.
func FromFunc(fn func(a, b, c float64) (float64, float64, float64)) Transform {
	return TransformFunc(func(p model.Point) model.Point {
		x, y, z := fn(p.X, p.Y, p.Z)
		return model.Point{X: x, Y: y, Z: z}
	})
}

// EPSGTransform builds a transform between two codes of the wgs84 EPSG
// repository. Use it to plug systems outside the Mercator and geographic
// families into a Registry.
func EPSGTransform(from, to int) Transform {
	repo := wgs84.EPSG()
	return FromFunc(wgs84.Transform(repo.Code(from), repo.Code(to)))
}
