package crs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/gridlight/internal/core/model"
	"github.com/mohammed-shakir/gridlight/internal/core/observability"
)

// ErrUnknownTransform is returned by a strict registry when no transform is
// registered for a pair of distinct codes.
var ErrUnknownTransform = errors.New("no transform registered")

type Option func(*Registry)

// WithStrict makes Transform fail with ErrUnknownTransform instead of passing
// coordinates through when a pair is missing.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// Registry owns CRS definitions and the directed transform graph. Build it
// once at startup and share it; reads are safe from any goroutine.
// Only direct (source, dest) entries are resolved; there is no multi-hop
// chaining through intermediate codes.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]CRS
	transforms map[string]map[string]Transform
	strict     bool
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		defs:       make(map[string]CRS),
		transforms: make(map[string]map[string]Transform),
	}
	for _, f := range opts {
		f(r)
	}
	return r
}

// NewDefaultRegistry knows the geographic and web Mercator families.
func NewDefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	for _, c := range Defaults() {
		if err := r.Define(c); err != nil {
			panic(err)
		}
	}
	RegisterMercator(r)
	return r
}

func (r *Registry) Strict() bool { return r.strict }

// Define adds a CRS. Codes can be defined once.
func (r *Registry) Define(c CRS) error {
	code := normalize(c.Code)
	if code == "" {
		return errors.New("crs code is required")
	}
	c.Code = code
	if c.Extent != nil {
		ext := *c.Extent
		ext.CRS = code
		c.Extent = &ext
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[code]; ok {
		return fmt.Errorf("crs %q already defined", code)
	}
	r.defs[code] = c
	return nil
}

// Lookup returns the definition for code, if any.
func (r *Registry) Lookup(code string) (CRS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.defs[normalize(code)]
	return c, ok
}

// Register stores t under (from, to), replacing any previous entry.
// Registering Identity also gives to the validity extent of from when to has
// none yet.
func (r *Registry) Register(from, to string, t Transform) {
	from, to = normalize(from), normalize(to)
	r.mu.Lock()
	defer r.mu.Unlock()

	if IsIdentity(t) {
		src, ok := r.defs[from]
		if ok && src.HasExtent() {
			dst, known := r.defs[to]
			switch {
			case !known:
				cp := src
				cp.Code = to
				r.defs[to] = cp.withExtentFrom(src)
			case !dst.HasExtent():
				r.defs[to] = dst.withExtentFrom(src)
			}
		}
	}

	m := r.transforms[from]
	if m == nil {
		m = make(map[string]Transform)
		r.transforms[from] = m
	}
	m[to] = t
}

func (r *Registry) lookup(from, to string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[from][to]
	return t, ok
}

// Transform returns p expressed in dest. Equal codes, empty codes, and (unless
// strict) unregistered pairs return p unchanged.
func (r *Registry) Transform(p model.Point, source, dest string) (model.Point, error) {
	source, dest = normalize(source), normalize(dest)
	if source == "" || dest == "" || source == dest {
		observability.IncTransform("identity")
		return p, nil
	}
	t, ok := r.lookup(source, dest)
	if !ok {
		if r.strict {
			observability.IncTransform("unknown")
			return p, fmt.Errorf("transform %s -> %s: %w", source, dest, ErrUnknownTransform)
		}
		observability.IncTransform("passthrough")
		return p, nil
	}
	if IsIdentity(t) {
		observability.IncTransform("identity")
	} else {
		observability.IncTransform("applied")
	}
	return t.Apply(p), nil
}

// Equals reports whether a and b name the same system: equal codes or an
// Identity registered from a to b.
func (r *Registry) Equals(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if a == b {
		return true
	}
	t, ok := r.lookup(a, b)
	return ok && IsIdentity(t)
}

// TransformLocation re-expresses loc in dest.
func (r *Registry) TransformLocation(loc model.Location, dest string) (model.Location, error) {
	p, err := r.Transform(loc.Point, loc.CRS, dest)
	if err != nil {
		return model.Location{}, err
	}
	return model.Location{Point: p, CRS: normalize(dest)}, nil
}

// TransformBBox transforms the four corners of b and returns their envelope,
// which keeps min <= max even when dest flips an axis.
func (r *Registry) TransformBBox(b model.BBox, dest string) (model.BBox, error) {
	corners := b.Corners()
	out := make([]model.Point, 0, len(corners))
	for _, c := range corners {
		p, err := r.Transform(c, b.CRS, dest)
		if err != nil {
			return model.BBox{}, err
		}
		out = append(out, p)
	}
	return model.BBoxFromPoints(normalize(dest), out...), nil
}
