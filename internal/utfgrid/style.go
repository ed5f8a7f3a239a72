package utfgrid

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Style is the solid highlight fill, straight (not premultiplied) alpha.
type Style struct {
	R, G, B, A uint8
}

func (s Style) NRGBA() color.NRGBA {
	return color.NRGBA{R: s.R, G: s.G, B: s.B, A: s.A}
}

func (s Style) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", s.R, s.G, s.B)
}

// ParseStyle derives a Style from a "#rrggbb" fill colour and an opacity
// fraction. An empty colour is black. Opacity in [0,1] scales to 0..255 with
// truncation; anything else, NaN included, is fully opaque.
func ParseStyle(fillColor string, fillOpacity float64) (Style, error) {
	a := uint8(255)
	if fillOpacity >= 0 && fillOpacity <= 1 {
		a = uint8(255 * fillOpacity)
	}
	fc := strings.TrimSpace(fillColor)
	if fc == "" {
		return Style{A: a}, nil
	}
	if len(fc) != 7 || fc[0] != '#' {
		return Style{}, fmt.Errorf("fill colour %q: want #rrggbb", fillColor)
	}
	v, err := strconv.ParseUint(fc[1:], 16, 32)
	if err != nil {
		return Style{}, fmt.Errorf("fill colour %q: %w", fillColor, err)
	}
	return Style{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: a}, nil
}
