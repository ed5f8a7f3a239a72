package utfgrid

import (
	"errors"
	"math"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// Viewport is the map view the overlay is aligned to.
type Viewport interface {
	Size() model.Size
	Extent() model.BBox
	PixelFromCoord(p model.Point) model.Pixel
}

// LinearViewport maps an extent linearly onto a Width x Height pixel grid
// with the origin at the top-left corner.
type LinearViewport struct {
	Width, Height int
	View          model.BBox
}

func NewViewport(view model.BBox, width, height int) (LinearViewport, error) {
	if width <= 0 || height <= 0 {
		return LinearViewport{}, errors.New("viewport size must be positive")
	}
	if view.Width() <= 0 || view.Height() <= 0 {
		return LinearViewport{}, errors.New("viewport extent must have area")
	}
	return LinearViewport{Width: width, Height: height, View: view}, nil
}

func (v LinearViewport) Size() model.Size   { return model.Size{W: v.Width, H: v.Height} }
func (v LinearViewport) Extent() model.BBox { return v.View }

// Resolution is map units per pixel along x.
func (v LinearViewport) Resolution() float64 {
	return v.View.Width() / float64(v.Width)
}

func (v LinearViewport) PixelFromCoord(p model.Point) model.Pixel {
	rx := v.View.Width() / float64(v.Width)
	ry := v.View.Height() / float64(v.Height)
	return model.Pixel{
		X: int(math.Floor((p.X-v.View.MinX)/rx + 0.5)),
		Y: int(math.Floor((v.View.MaxY-p.Y)/ry + 0.5)),
	}
}
