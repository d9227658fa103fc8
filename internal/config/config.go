package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyGlyphSet reports a glyph set with no characters.
	ErrEmptyGlyphSet = errors.New("glyph set must contain at least one character")
	// ErrInvalidResolution reports a grid with a non-positive or oversized dimension.
	ErrInvalidResolution = errors.New("grid resolution out of range")
	// ErrInvalidParameter reports any other out-of-range field.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// MaxResolution bounds each grid dimension.
const MaxResolution = 1024

// ColorMode selects the base colour the shader applies to every glyph.
type ColorMode int

const (
	ColorGreen ColorMode = iota
	ColorWhite
	ColorAmber
	ColorSpectrum
)

var colorModeNames = []string{"green", "white", "amber", "spectrum"}

// ColorModeNames returns the supported colour modes in declaration order.
func ColorModeNames() []string {
	out := make([]string, len(colorModeNames))
	copy(out, colorModeNames)
	return out
}

// ParseColorMode resolves a colour mode name, accepting a few aliases.
func ParseColorMode(name string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "green", "matrix", "phosphor":
		return ColorGreen, nil
	case "white", "mono", "bw":
		return ColorWhite, nil
	case "amber":
		return ColorAmber, nil
	case "spectrum", "rgb", "rainbow":
		return ColorSpectrum, nil
	default:
		return ColorGreen, fmt.Errorf("%w: unknown color mode %q", ErrInvalidParameter, name)
	}
}

func (m ColorMode) String() string {
	if m < 0 || int(m) >= len(colorModeNames) {
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
	return colorModeNames[m]
}

// Next cycles to the following mode, wrapping after Spectrum.
func (m ColorMode) Next() ColorMode {
	return ColorMode((int(m) + 1) % len(colorModeNames))
}

func (m ColorMode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(colorModeNames) {
		return nil, fmt.Errorf("%w: color mode %d", ErrInvalidParameter, int(m))
	}
	return []byte(colorModeNames[m]), nil
}

func (m *ColorMode) UnmarshalText(text []byte) error {
	parsed, err := ParseColorMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config is the flat parameter record the render loop reads once per tick.
// It is always replaced as a whole; see Store.
type Config struct {
	ResolutionWidth  int       `json:"resolutionWidth" yaml:"resolutionWidth"`
	ResolutionHeight int       `json:"resolutionHeight" yaml:"resolutionHeight"`
	GlyphSet         string    `json:"glyphSet" yaml:"glyphSet"`
	Sensitivity      float64   `json:"sensitivity" yaml:"sensitivity"`
	ColorMode        ColorMode `json:"colorMode" yaml:"colorMode"`
	Smoothing        float64   `json:"smoothing" yaml:"smoothing"`
	Brightness       float64   `json:"brightness" yaml:"brightness"`
	Contrast         float64   `json:"contrast" yaml:"contrast"`
	Invert           bool      `json:"invert" yaml:"invert"`
	PersonOnly       bool      `json:"personOnly" yaml:"personOnly"`
	Scanlines        bool      `json:"scanlines" yaml:"scanlines"`
	AudioReactivity  bool      `json:"audioReactivity" yaml:"audioReactivity"`
}

// Defaults mirrors the stock look: a green 120x90 grid over the simple ramp.
func Defaults() Config {
	return Config{
		ResolutionWidth:  120,
		ResolutionHeight: 90,
		GlyphSet:         GlyphSetSimple,
		Sensitivity:      2.5,
		ColorMode:        ColorGreen,
		Smoothing:        0.85,
		Brightness:       1.1,
		Contrast:         1.1,
		Invert:           false,
		PersonOnly:       false,
		Scanlines:        true,
		AudioReactivity:  true,
	}
}

// Glyphs returns the glyph set as runes; index 0 is the densest glyph.
func (c Config) Glyphs() []rune {
	return []rune(c.GlyphSet)
}

// GlyphCount returns N, the number of glyphs in the set.
func (c Config) GlyphCount() int {
	return utf8.RuneCountInString(c.GlyphSet)
}

// Validate rejects records the render loop cannot draw.
func (c Config) Validate() error {
	if c.GlyphCount() < 1 {
		return ErrEmptyGlyphSet
	}
	if c.ResolutionWidth < 1 || c.ResolutionHeight < 1 ||
		c.ResolutionWidth > MaxResolution || c.ResolutionHeight > MaxResolution {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, c.ResolutionWidth, c.ResolutionHeight)
	}
	if !finite(c.Sensitivity) || c.Sensitivity < 0 {
		return fmt.Errorf("%w: sensitivity %v", ErrInvalidParameter, c.Sensitivity)
	}
	if !finite(c.Smoothing) || c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("%w: smoothing %v not in [0,1)", ErrInvalidParameter, c.Smoothing)
	}
	if !finite(c.Brightness) || !finite(c.Contrast) {
		return fmt.Errorf("%w: brightness/contrast must be finite", ErrInvalidParameter)
	}
	if c.ColorMode < ColorGreen || c.ColorMode > ColorSpectrum {
		return fmt.Errorf("%w: color mode %d", ErrInvalidParameter, int(c.ColorMode))
	}
	return nil
}

// FitHeight derives the row count that keeps cells square-ish for a
// viewport of viewW x viewH at the given column count.
func FitHeight(width, viewW, viewH int) int {
	if width <= 0 || viewW <= 0 || viewH <= 0 {
		return width
	}
	h := int(math.Floor(float64(width) * float64(viewH) / float64(viewW)))
	if h < 1 {
		h = 1
	}
	if h > MaxResolution {
		h = MaxResolution
	}
	return h
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
