package tile

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/crs"
)

// Property names accepted by LayerFromProperties.
const (
	PropName              = "name"
	PropTemplate          = "template"
	PropTileSize          = "tileSize"
	PropProjection        = "projection"
	PropExtent            = "extent"
	PropResolutions       = "resolutions"
	PropMaxZoom           = "maxZoom"
	PropWrapDateLine      = "wrapDateLine"
	PropUTFGridResolution = "utfgridResolution"
)

type propSetter func(cfg *LayerConfig, v any) error

var propSetters = map[string]propSetter{
	PropName: func(cfg *LayerConfig, v any) (err error) {
		cfg.Name, err = asString(v)
		return err
	},
	PropTemplate: func(cfg *LayerConfig, v any) (err error) {
		cfg.Templates, err = asStrings(v)
		return err
	},
	PropTileSize: func(cfg *LayerConfig, v any) (err error) {
		cfg.TileSize, err = asInt(v)
		return err
	},
	PropProjection: func(cfg *LayerConfig, v any) (err error) {
		cfg.Projection, err = asString(v)
		return err
	},
	PropExtent: func(cfg *LayerConfig, v any) error {
		f, err := asFloats(v)
		if err != nil {
			return err
		}
		if len(f) != 4 {
			return fmt.Errorf("want [minX, minY, maxX, maxY], got %d values", len(f))
		}
		b, err := model.NewBBox(f[0], f[1], f[2], f[3], "")
		if err != nil {
			return err
		}
		cfg.Extent = &b
		return nil
	},
	PropResolutions: func(cfg *LayerConfig, v any) (err error) {
		cfg.Resolutions, err = asFloats(v)
		return err
	},
	PropMaxZoom: func(cfg *LayerConfig, v any) (err error) {
		cfg.MaxZoom, err = asInt(v)
		return err
	},
	PropWrapDateLine: func(cfg *LayerConfig, v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		cfg.WrapDateLine = b
		return nil
	},
	PropUTFGridResolution: func(cfg *LayerConfig, v any) (err error) {
		cfg.UTFGridResolution, err = asInt(v)
		return err
	},
}

// LayerFromProperties builds a Layer from a named property map. Unknown keys
// fail with *UnsupportedConfigPropertyError before anything is constructed.
func LayerFromProperties(reg *crs.Registry, props map[string]any) (*Layer, error) {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	var cfg LayerConfig
	for _, k := range names {
		set, ok := propSetters[k]
		if !ok {
			return nil, &UnsupportedConfigPropertyError{Property: k}
		}
		if err := set(&cfg, props[k]); err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
	}
	return NewLayer(reg, cfg)
}

// LayerFromJSON decodes a JSON object of layer properties.
func LayerFromJSON(reg *crs.Registry, data []byte) (*Layer, error) {
	var props map[string]any
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decode layer config: %w", err)
	}
	return LayerFromProperties(reg, props)
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}
	return s, nil
}

func asStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := asString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want string or list of strings, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asInt(v any) (int, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("want integer, got %g", f)
	}
	return int(f), nil
}

func asFloats(v any) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return t, nil
	case []any:
		out := make([]float64, 0, len(t))
		for _, e := range t {
			f, err := asFloat(e)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want list of numbers, got %T", v)
}
