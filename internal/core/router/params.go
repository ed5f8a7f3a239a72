package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
)

// Bounds on a single overlay buffer.
const (
	maxOverlaySide   = 8192
	maxOverlayPixels = 4096 * 4096
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

// parseBBOX reads "minx,miny,maxx,maxy[,CRS]". Without a CRS the box is in
// defCRS.
func parseBBOX(raw, defCRS string) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected minx,miny,maxx,maxy[,CRS]")
	}
	var v [4]float64
	for i := range v {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	crs := defCRS
	if len(parts) == 5 {
		// CRS codes are case-sensitive registry keys.
		crs = strings.TrimSpace(parts[4])
	}
	b, err := model.NewBBox(v[0], v[1], v[2], v[3], crs)
	if err != nil {
		return model.BBox{}, err
	}
	if b.Width() <= 0 || b.Height() <= 0 {
		return model.BBox{}, errors.New("bbox must have area")
	}
	return b, nil
}

func queryFloat(r *http.Request, name string, required bool, def float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if required {
			return 0, badRequest("missing required parameter: %s", name)
		}
		return def, nil
	}
	f, err := parseFloat(raw)
	if err != nil {
		return 0, badRequest("invalid %s: %v", name, err)
	}
	return f, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, badRequest("missing required parameter: %s", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s: %v", name, err)
	}
	return n, nil
}

// viewParams is the map view an overlay or feature lookup is aligned to.
type viewParams struct {
	BBox          model.BBox
	Width, Height int
}

func parseView(r *http.Request, defCRS string) (viewParams, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		return viewParams{}, badRequest("missing required parameter: bbox")
	}
	b, err := parseBBOX(raw, defCRS)
	if err != nil {
		return viewParams{}, badRequest("invalid bbox: %v", err)
	}
	w, err := queryInt(r, "width")
	if err != nil {
		return viewParams{}, err
	}
	h, err := queryInt(r, "height")
	if err != nil {
		return viewParams{}, err
	}
	if w <= 0 || h <= 0 || w > maxOverlaySide || h > maxOverlaySide || w*h > maxOverlayPixels {
		return viewParams{}, badRequest("width and height must be positive and at most %d pixels in total", maxOverlayPixels)
	}
	return viewParams{BBox: b, Width: w, Height: h}, nil
}
