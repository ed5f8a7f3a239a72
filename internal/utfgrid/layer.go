package utfgrid

import (
	"image"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// Layer holds the highlight style and highlight set shared by overlay
// requests. Mutations and composites may run from different goroutines.
type Layer struct {
	log *slog.Logger

	mu    sync.RWMutex
	style *Style
	set   *HighlightSet
}

func NewLayer(log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{log: log, set: NewHighlightSet()}
}

// SetHighlightStyle parses and installs the fill used for highlighted cells.
func (l *Layer) SetHighlightStyle(fillColor string, fillOpacity float64) error {
	s, err := ParseStyle(fillColor, fillOpacity)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.style = &s
	l.mu.Unlock()
	l.log.Debug("highlight style set", "fill", s.Hex(), "alpha", s.A)
	return nil
}

// Style returns the current style, if one has been set.
func (l *Layer) Style() (Style, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.style == nil {
		return Style{}, false
	}
	return *l.style, true
}

// HighlightFeatures replaces the highlight set with ids, or appends to it
// when keepExisting is set.
func (l *Layer) HighlightFeatures(ids []string, keepExisting bool) {
	l.mu.Lock()
	if keepExisting {
		l.set.Append(ids...)
	} else {
		l.set.Replace(ids...)
	}
	n := l.set.Len()
	l.mu.Unlock()
	l.log.Debug("highlight updated", "added", len(ids), "keep_existing", keepExisting, "total", n)
}

func (l *Layer) Highlighted() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.IDs()
}

// UpdateHighlight composites tiles for vp. Without a style or highlighted
// ids the result is fully transparent.
func (l *Layer) UpdateHighlight(vp Viewport, tiles []Tile) *image.NRGBA {
	l.mu.RLock()
	style := l.style
	var set *HighlightSet
	if style != nil && l.set.Len() > 0 {
		set = l.set.Clone()
	}
	l.mu.RUnlock()

	if set == nil {
		return newBuffer(vp.Size())
	}
	return Composite(vp, *style, set, tiles)
}

func (l *Layer) FeatureID(vp Viewport, tiles []Tile, p model.Pixel) (string, bool) {
	return FeatureID(vp, tiles, p)
}

func (l *Layer) FeatureInfo(vp Viewport, tiles []Tile, p model.Pixel) (Feature, bool) {
	return FeatureInfo(vp, tiles, p)
}
