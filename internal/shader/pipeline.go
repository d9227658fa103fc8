package shader

import (
	"image"
	"math"

	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/grid"
)

// Pipeline executes the glyph program on the CPU into an RGBA
// framebuffer. Instances are drawn in index order over a black clear;
// each quad stays an axis-aligned rectangle, so rasterization is a
// rectangle fill with GL's pixel-centre rule.
type Pipeline struct {
	fb *image.RGBA
}

// NewPipeline allocates a w×h framebuffer.
func NewPipeline(w, h int) *Pipeline {
	p := &Pipeline{}
	p.Resize(w, h)
	return p
}

// Resize reallocates the framebuffer when the size changes.
func (p *Pipeline) Resize(w, h int) {
	w, h = max(w, 1), max(h, 1)
	if p.fb != nil && p.fb.Rect.Dx() == w && p.fb.Rect.Dy() == h {
		return
	}
	p.fb = image.NewRGBA(image.Rect(0, 0, w, h))
}

// Framebuffer returns the image of the last Draw. It is reused by the
// next Draw.
func (p *Pipeline) Framebuffer() *image.RGBA {
	return p.fb
}

// Draw clears to black and draws every instance of g.
func (p *Pipeline) Draw(a *atlas.Atlas, g *grid.Grid, u Uniforms) *image.RGBA {
	fb := p.fb
	for i := 0; i < len(fb.Pix); i += 4 {
		fb.Pix[i], fb.Pix[i+1], fb.Pix[i+2], fb.Pix[i+3] = 0, 0, 0, 255
	}
	if a == nil || g == nil || g.Len() == 0 || u.CharsPerRow < 1 {
		return fb
	}

	w, h := fb.Rect.Dx(), fb.Rect.Dy()
	fw, fh := float64(w), float64(h)
	bl, tr := grid.Quad[0], grid.Quad[2]
	for i := 0; i < g.Len(); i++ {
		glyph := float64(g.GlyphIndex[i])
		v0 := Vertex(g.Transforms[i], bl, glyph, u)
		v1 := Vertex(g.Transforms[i], tr, glyph, u)
		if v1.X <= v0.X || v1.Y <= v0.Y {
			continue
		}

		// Window coordinates, y up. A pixel is covered when its centre
		// lies in [x0, x1) × [y0, y1).
		x0, x1 := (v0.X+1)/2*fw, (v1.X+1)/2*fw
		y0, y1 := (v0.Y+1)/2*fh, (v1.Y+1)/2*fh
		colStart := max(int(math.Ceil(x0-0.5)), 0)
		colEnd := min(int(math.Ceil(x1-0.5)), w)
		rowStart := max(int(math.Ceil(y0-0.5)), 0)
		rowEnd := min(int(math.Ceil(y1-0.5)), h)

		brightness := float64(g.Brightness[i])
		for wy := rowStart; wy < rowEnd; wy++ {
			fragY := float64(wy) + 0.5
			tv := (fragY - y0) / (y1 - y0)
			av := v0.V + (v1.V-v0.V)*tv
			py := h - 1 - wy
			for wx := colStart; wx < colEnd; wx++ {
				tu := (float64(wx) + 0.5 - x0) / (x1 - x0)
				au := v0.U + (v1.U-v0.U)*tu
				c, ok := Fragment(a.Sample(au, av), au, av, fragY, brightness, u)
				if !ok {
					continue
				}
				off := py*fb.Stride + wx*4
				fb.Pix[off] = toByte(c[0])
				fb.Pix[off+1] = toByte(c[1])
				fb.Pix[off+2] = toByte(c[2])
				fb.Pix[off+3] = 255
			}
		}
	}
	return fb
}

func toByte(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
