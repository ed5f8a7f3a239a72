// Package tile computes XYZ tile addresses and tile URLs for a fixed
// server-side tiling scheme.
package tile

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"unicode/utf16"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// Address identifies one tile of a layer's tiling scheme.
type Address struct {
	X, Y, Z int
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// hashFactor is the golden ratio conjugate, Knuth's multiplicative hash constant.
var hashFactor = (math.Sqrt(5) - 1) / 2

var templateRx = regexp.MustCompile(`\{\s*(\w+)\s*\}`)

// round matches half-up rounding: -0.5 rounds to 0, 0.5 rounds to 1.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}

// XYZ returns the address of the tile whose bounds are tileBounds, measured
// from the top-left corner of extent at the given resolution (map units per
// pixel). With wrap set, x is folded into [0, 2^z).
func XYZ(tileBounds, extent model.BBox, resolution float64, tileSize, z int, wrap bool) (Address, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Address{}, fmt.Errorf("xyz: %g: %w", resolution, ErrInvalidResolution)
	}
	if tileSize <= 0 {
		return Address{}, fmt.Errorf("xyz: %d: %w", tileSize, ErrInvalidTileSize)
	}
	if z < 0 || z > 62 {
		return Address{}, fmt.Errorf("xyz: zoom %d: %w", z, ErrInvalidZoom)
	}
	span := resolution * float64(tileSize)
	x := round((tileBounds.MinX - extent.MinX) / span)
	y := round((extent.MaxY - tileBounds.MaxY) / span)
	if wrap {
		x = wrapX(x, z)
	}
	return Address{X: x, Y: y, Z: z}, nil
}

func wrapX(x, z int) int {
	limit := 1 << z
	return ((x % limit) + limit) % limit
}

// URLKey is the multi-server selection key for a: decimal x, y and z
// concatenated without separators.
func URLKey(a Address) string {
	return strconv.Itoa(a.X) + strconv.Itoa(a.Y) + strconv.Itoa(a.Z)
}

// SelectURL deterministically picks one of urls for key using a floating-point
// multiplicative hash over the UTF-16 code units of key. It returns "" when
// urls is empty.
func SelectURL(key string, urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	product := 1.0
	for _, c := range utf16.Encode([]rune(key)) {
		product *= float64(c) * hashFactor
		product -= math.Floor(product)
	}
	i := int(math.Floor(product * float64(len(urls))))
	// an empty key leaves product at 1
	if i >= len(urls) {
		i = len(urls) - 1
	}
	return urls[i]
}

// RenderURL substitutes {x}, {y} and {z} in template. Whitespace inside the
// braces is allowed. Any other token fails with *TemplateError.
func RenderURL(template string, a Address) (string, error) {
	var bad string
	out := templateRx.ReplaceAllStringFunc(template, func(m string) string {
		name := templateRx.FindStringSubmatch(m)[1]
		switch name {
		case "x":
			return strconv.Itoa(a.X)
		case "y":
			return strconv.Itoa(a.Y)
		case "z":
			return strconv.Itoa(a.Z)
		}
		if bad == "" {
			bad = name
		}
		return m
	})
	if bad != "" {
		return "", &TemplateError{Template: template, Token: bad}
	}
	return out, nil
}
