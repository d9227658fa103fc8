package engine

import (
	"math"
	"math/rand"

	"github.com/guidoenr/glyphcast/internal/analyzer"
	"github.com/guidoenr/glyphcast/internal/config"
)

// Mapping constants.
const (
	// PersonAlphaCutoff is the mask alpha below which a cell counts as
	// background in person-only mode.
	PersonAlphaCutoff = 150
	// BrightnessPivot is the brightness setting that leaves luminance untouched.
	BrightnessPivot = 1.1

	bassShiftGain   = 0.4
	trebleGate      = 0.2
	trebleSubChance = 0.5
	volLift         = 0.6
	bassLift        = 0.2
	saturationGate  = 0.05
)

// Params is the slice of the config the per-cell mapping reads.
type Params struct {
	N               int
	Contrast        float64
	Brightness      float64
	Invert          bool
	PersonOnly      bool
	AudioReactivity bool
}

// ParamsFrom extracts mapping parameters from a validated config.
func ParamsFrom(c config.Config) Params {
	return Params{
		N:               c.GlyphCount(),
		Contrast:        c.Contrast,
		Brightness:      c.Brightness,
		Invert:          c.Invert,
		PersonOnly:      c.PersonOnly,
		AudioReactivity: c.AudioReactivity,
	}
}

// Mapper turns sampled cells into brightness and glyph index. Its random
// source is injected so runs can be reproduced.
type Mapper struct {
	rng *rand.Rand
}

// NewMapper wraps rng; nil seeds one from a fixed value.
func NewMapper(rng *rand.Rand) *Mapper {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Mapper{rng: rng}
}

// Luminance returns the contrast/brightness adjusted luminance, clamped
// to [0,1].
func Luminance(r, g, b uint8, p Params) float64 {
	lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
	lum = (lum-0.5)*p.Contrast + 0.5 + (p.Brightness - BrightnessPivot)
	if p.Invert {
		lum = 1 - lum
	}
	return clamp01(lum)
}

// Cell maps one RGBA cell. Index 0 is the densest glyph, N-1 the background.
func (m *Mapper) Cell(r, g, b, a uint8, p Params, s analyzer.Shaped) (float32, int) {
	n := max(p.N, 1)
	last := n - 1
	norm := Luminance(r, g, b, p)
	idx := int(math.Floor((1 - norm) * float64(last)))

	if p.PersonOnly && a < PersonAlphaCutoff {
		return 0, last
	}
	if !p.AudioReactivity {
		return float32(norm), idx
	}

	shift := int(math.Floor(s.Vol*float64(last))) + int(math.Floor(s.Bass*float64(last)*bassShiftGain))
	idx = ((idx-shift)%n + n) % n

	if s.Treble > trebleGate && m.rng.Float64() < s.Treble*trebleSubChance {
		idx = m.randomBelow(n - 2)
	}

	norm = math.Min(1, norm+s.Vol*volLift+s.Bass*bassLift)

	if s.Vol > saturationGate && idx >= last {
		idx = m.randomBelow(n - 2)
	}
	return float32(norm), idx
}

// Frame maps every cell of an RGBA buffer into brightness and glyph.
func (m *Mapper) Frame(px []byte, p Params, s analyzer.Shaped, brightness, glyph []float32) {
	cells := min(len(px)/4, len(brightness), len(glyph))
	for i := 0; i < cells; i++ {
		o := i * 4
		b, idx := m.Cell(px[o], px[o+1], px[o+2], px[o+3], p, s)
		brightness[i] = b
		glyph[i] = float32(idx)
	}
}

// randomBelow returns a uniform integer in [0,k), or 0 when k<=0.
func (m *Mapper) randomBelow(k int) int {
	if k <= 0 {
		return 0
	}
	return int(math.Floor(m.rng.Float64() * float64(k)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
