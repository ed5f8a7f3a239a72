package gridstore

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/gridlight/internal/tile"
)

// Key is the storage key of one tile grid. variant identifies the grid
// source (the layer's template set) so a reconfigured layer never reads
// grids written for another source.
func Key(layer string, a tile.Address, variant string) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(layer))
	sum := xxhash.Sum64String(strings.TrimSpace(variant))
	return fmt.Sprintf("grid:%s:%d:%d:%d:v=%016x", layerNorm, a.Z, a.X, a.Y, sum)
}

// Variant fingerprints a template list independent of surrounding whitespace.
func Variant(templates []string) string {
	parts := make([]string, 0, len(templates))
	for _, t := range templates {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "|")
}

// Checksum is a hex xxhash of b, used for ETags.
func Checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// ':' included, it separates key fields
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
