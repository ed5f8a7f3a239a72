package tile

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidResolution = errors.New("resolution must be positive")
	ErrInvalidTileSize   = errors.New("tile size must be positive")
	ErrMissingProperty   = errors.New("missing required config property")
	ErrInvalidZoom       = errors.New("zoom level out of range")
	ErrTooManyTiles      = errors.New("view covers too many tiles")
	ErrInvalidView       = errors.New("view bounds out of range")
)

// TemplateError reports a URL template token with no value.
type TemplateError struct {
	Template string
	Token    string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("unrecognized url template variable %q in %q", e.Token, e.Template)
}

// UnsupportedConfigPropertyError rejects an unknown layer config key.
type UnsupportedConfigPropertyError struct {
	Property string
}

func (e *UnsupportedConfigPropertyError) Error() string {
	return "unsupported config property: " + e.Property
}
