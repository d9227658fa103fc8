package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the current Config. Readers get a consistent copy without
// locking; writers swap in a whole new record, so a reader never sees a
// half-applied change.
type Store struct {
	mu      sync.Mutex
	cur     atomic.Pointer[Config]
	version atomic.Uint64
}

// NewStore validates the initial record and wraps it.
func NewStore(initial Config) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	c := initial
	s.cur.Store(&c)
	s.version.Store(1)
	return s, nil
}

// Load returns a copy of the current record.
func (s *Store) Load() Config {
	return *s.cur.Load()
}

// Version increases by one on every successful replacement.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Replace swaps in next if it validates.
func (s *Store) Replace(next Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := next
	s.cur.Store(&c)
	s.version.Add(1)
	return nil
}

// Update applies fn to a copy of the current record and replaces it.
// Concurrent updates are serialised so no edit is lost.
func (s *Store) Update(fn func(*Config)) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cur.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return *s.cur.Load(), err
	}
	s.cur.Store(&next)
	s.version.Add(1)
	return next, nil
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	ResolutionWidth  *int       `json:"resolutionWidth,omitempty"`
	ResolutionHeight *int       `json:"resolutionHeight,omitempty"`
	GlyphSet         *string    `json:"glyphSet,omitempty"`
	Sensitivity      *float64   `json:"sensitivity,omitempty"`
	ColorMode        *ColorMode `json:"colorMode,omitempty"`
	Smoothing        *float64   `json:"smoothing,omitempty"`
	Brightness       *float64   `json:"brightness,omitempty"`
	Contrast         *float64   `json:"contrast,omitempty"`
	Invert           *bool      `json:"invert,omitempty"`
	PersonOnly       *bool      `json:"personOnly,omitempty"`
	Scanlines        *bool      `json:"scanlines,omitempty"`
	AudioReactivity  *bool      `json:"audioReactivity,omitempty"`
}

// Apply merges the set fields into c. Glyph sets may be given by preset name.
func (p Patch) Apply(c *Config) {
	if p.ResolutionWidth != nil {
		c.ResolutionWidth = *p.ResolutionWidth
	}
	if p.ResolutionHeight != nil {
		c.ResolutionHeight = *p.ResolutionHeight
	}
	if p.GlyphSet != nil {
		c.GlyphSet = ResolveGlyphSet(*p.GlyphSet)
	}
	if p.Sensitivity != nil {
		c.Sensitivity = *p.Sensitivity
	}
	if p.ColorMode != nil {
		c.ColorMode = *p.ColorMode
	}
	if p.Smoothing != nil {
		c.Smoothing = *p.Smoothing
	}
	if p.Brightness != nil {
		c.Brightness = *p.Brightness
	}
	if p.Contrast != nil {
		c.Contrast = *p.Contrast
	}
	if p.Invert != nil {
		c.Invert = *p.Invert
	}
	if p.PersonOnly != nil {
		c.PersonOnly = *p.PersonOnly
	}
	if p.Scanlines != nil {
		c.Scanlines = *p.Scanlines
	}
	if p.AudioReactivity != nil {
		c.AudioReactivity = *p.AudioReactivity
	}
}

// ApplyPatch is Update with a Patch.
func (s *Store) ApplyPatch(p Patch) (Config, error) {
	return s.Update(p.Apply)
}
