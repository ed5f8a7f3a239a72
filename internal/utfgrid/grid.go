// Package utfgrid resolves viewport pixels against decoded UTFGrid tiles and
// composites highlighted features into a transparent overlay.
package utfgrid

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Grid is a decoded UTFGrid payload. Grid rows hold palette codes, one per
// resolution x resolution pixel block; Keys maps a code to a feature id and
// Data carries each feature's attributes untouched.
type Grid struct {
	Grid [][]int                    `json:"grid"`
	Keys []string                   `json:"keys"`
	Data map[string]json.RawMessage `json:"data,omitempty"`
}

// Feature is the id and attribute payload under one grid cell.
type Feature struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeGrid parses a JSON grid payload.
func DecodeGrid(b []byte) (*Grid, error) {
	var g Grid
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("decode grid: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks that the payload has rows and no negative codes.
func (g *Grid) Validate() error {
	if len(g.Grid) == 0 {
		return errors.New("grid has no rows")
	}
	for y, row := range g.Grid {
		for x, c := range row {
			if c < 0 {
				return fmt.Errorf("grid code at (%d,%d) is negative", x, y)
			}
		}
	}
	return nil
}

func (g *Grid) Rows() int { return len(g.Grid) }

// Code returns the palette code at column gx of row gy.
func (g *Grid) Code(gx, gy int) (int, bool) {
	if gy < 0 || gy >= len(g.Grid) {
		return 0, false
	}
	row := g.Grid[gy]
	if gx < 0 || gx >= len(row) {
		return 0, false
	}
	return row[gx], true
}

// FeatureID returns the feature id under a cell. Cells whose code has no key,
// or whose key is empty, hold no feature.
func (g *Grid) FeatureID(gx, gy int) (string, bool) {
	c, ok := g.Code(gx, gy)
	if !ok || c >= len(g.Keys) {
		return "", false
	}
	id := g.Keys[c]
	return id, id != ""
}

func (g *Grid) FeatureInfo(gx, gy int) (Feature, bool) {
	id, ok := g.FeatureID(gx, gy)
	if !ok {
		return Feature{}, false
	}
	return Feature{ID: id, Data: g.Data[id]}, true
}
