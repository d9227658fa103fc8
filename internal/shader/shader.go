// Package shader holds the glyph program: the GLSL sources run by the GL
// backend and the same vertex and fragment stages written in Go for the
// software rasterizer.
package shader

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/grid"
)

//go:embed glsl/glyph.vert
var VertexSource string

//go:embed glsl/glyph.frag
var FragmentSource string

// Thresholds shared by both executions of the program.
const (
	JitterThreshold = 0.3
	JitterAmount    = 0.01
	DiscardBelow    = 0.1
)

// RGB is a linear colour with components nominally in [0,1].
type RGB [3]float64

// Uniforms are set once per tick.
type Uniforms struct {
	Time        float64
	Treble      float64
	Color       RGB
	Spectrum    bool
	Scanlines   bool
	CharsPerRow int
	Scale       float64
}

// Palette returns the base colour for mode and whether the spectrum cycle
// replaces it.
func Palette(mode config.ColorMode) (RGB, bool, error) {
	switch mode {
	case config.ColorGreen:
		return RGB{0.1, 1, 0.2}, false, nil
	case config.ColorWhite:
		return RGB{1, 1, 1}, false, nil
	case config.ColorAmber:
		return RGB{1, 0.6, 0}, false, nil
	case config.ColorSpectrum:
		return RGB{1, 1, 1}, true, nil
	}
	return RGB{}, false, fmt.Errorf("%w: color mode %d", config.ErrInvalidParameter, int(mode))
}

// NewUniforms fills the per-configuration uniforms. Time, Treble and
// Scale are left for the caller.
func NewUniforms(mode config.ColorMode, scanlines bool, charsPerRow int) (Uniforms, error) {
	color, spectrum, err := Palette(mode)
	if err != nil {
		return Uniforms{}, err
	}
	return Uniforms{
		Color:       color,
		Spectrum:    spectrum,
		Scanlines:   scanlines,
		CharsPerRow: charsPerRow,
		Scale:       1,
	}, nil
}

// Hash is the GLSL one-liner fract(sin(dot(v, (12.9898,78.233)))*43758.5453).
func Hash(a, b float64) float64 {
	return fract(math.Sin(a*12.9898+b*78.233) * 43758.5453)
}

// Jitter returns the per-instance position offset for glyph g at time t.
func Jitter(t, treble, g float64) (dx, dy float64) {
	if treble <= JitterThreshold {
		return 0, 0
	}
	dx = (Hash(t, g) - 0.5) * treble * JitterAmount
	dy = (Hash(t*1.1, g) - 0.5) * treble * JitterAmount
	return dx, dy
}

// AtlasUV maps a quad-local UV into the atlas cell of glyph g. The atlas
// has charsPerRow cells per edge and its first row sits at the top (v=1).
func AtlasUV(g float64, charsPerRow int, u, v float64) (float64, float64) {
	c := float64(charsPerRow)
	row := math.Floor(g / c)
	col := math.Mod(g, c)
	return u/c + col/c, v/c + (c-1-row)/c
}

// VertexOut is what the vertex stage hands to rasterization.
type VertexOut struct {
	X, Y float64 // NDC
	U, V float64 // atlas UV
}

// Vertex runs the vertex stage for one quad corner of an instance.
func Vertex(model mgl32.Mat4, corner grid.Vertex, glyph float64, u Uniforms) VertexOut {
	p := model.Mul4x1(mgl32.Vec4{corner.X, corner.Y, 0, 1})
	x, y := float64(p.X()), float64(p.Y())
	dx, dy := Jitter(u.Time, u.Treble, glyph)
	x += dx
	y += dy
	au, av := AtlasUV(glyph, u.CharsPerRow, float64(corner.U), float64(corner.V))
	return VertexOut{X: x * u.Scale, Y: y * u.Scale, U: au, V: av}
}

// Fragment runs the fragment stage. tex is the sampled atlas intensity,
// (u,v) the interpolated atlas UV and fragY the window y coordinate
// measured from the bottom edge. ok is false when the fragment is
// discarded.
func Fragment(tex, u, v, fragY, brightness float64, un Uniforms) (RGB, bool) {
	if tex < DiscardBelow {
		return RGB{}, false
	}
	c := un.Color
	if un.Spectrum {
		c = RGB{
			0.5 + 0.5*math.Cos(un.Time+u),
			0.5 + 0.5*math.Cos(un.Time+v+2),
			0.5 + 0.5*math.Cos(un.Time+u+4),
		}
	}
	if un.Scanlines {
		freq := 2 + un.Treble*6
		scan := math.Sin(fragY*freq)*(0.05+un.Treble*0.15) + 0.9
		c = c.scale(scan)
	}
	flicker := 1 - un.Treble*0.05*math.Sin(un.Time*40)
	return c.scale(brightness * flicker), true
}

func (c RGB) scale(k float64) RGB {
	return RGB{c[0] * k, c[1] * k, c[2] * k}
}

func fract(x float64) float64 {
	return x - math.Floor(x)
}
