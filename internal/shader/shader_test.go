package shader

import (
	"errors"
	"math"
	"testing"

	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/grid"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPaletteCoversEveryMode(t *testing.T) {
	for _, name := range config.ColorModeNames() {
		mode, err := config.ParseColorMode(name)
		if err != nil {
			t.Fatal(err)
		}
		_, spectrum, err := Palette(mode)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if spectrum != (mode == config.ColorSpectrum) {
			t.Fatalf("%s: spectrum=%v", name, spectrum)
		}
	}
	if _, _, err := Palette(config.ColorMode(42)); !errors.Is(err, config.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestAtlasUV(t *testing.T) {
	cases := []struct {
		glyph, u, v  float64
		wantU, wantV float64
	}{
		{0, 0, 0, 0, 0.75},
		{0, 1, 1, 0.25, 1},
		{5, 0, 0, 0.25, 0.5},
		{15, 1, 1, 1, 0.25},
	}
	for _, c := range cases {
		u, v := AtlasUV(c.glyph, 4, c.u, c.v)
		if !approx(u, c.wantU) || !approx(v, c.wantV) {
			t.Fatalf("AtlasUV(%v,(%v,%v)) = (%v,%v) want (%v,%v)", c.glyph, c.u, c.v, u, v, c.wantU, c.wantV)
		}
	}
}

func TestJitterGatedAndReproducible(t *testing.T) {
	if dx, dy := Jitter(3.2, 0.3, 7); dx != 0 || dy != 0 {
		t.Fatalf("treble at threshold must not jitter")
	}
	dx1, dy1 := Jitter(3.2, 0.9, 7)
	dx2, dy2 := Jitter(3.2, 0.9, 7)
	if dx1 != dx2 || dy1 != dy2 {
		t.Fatalf("jitter not reproducible")
	}
	limit := 0.9 * JitterAmount / 2
	if math.Abs(dx1) > limit || math.Abs(dy1) > limit {
		t.Fatalf("jitter (%v,%v) exceeds %v", dx1, dy1, limit)
	}
	if dx3, _ := Jitter(3.3, 0.9, 7); dx3 == dx1 {
		t.Fatalf("jitter should vary with time")
	}
}

func TestFragmentDiscardsBackground(t *testing.T) {
	u, _ := NewUniforms(config.ColorGreen, false, 4)
	if _, ok := Fragment(0.05, 0, 0, 0.5, 1, u); ok {
		t.Fatalf("low intensity must discard")
	}
}

func TestFragmentPaletteTimesBrightness(t *testing.T) {
	u, _ := NewUniforms(config.ColorAmber, false, 4)
	c, ok := Fragment(1, 0.3, 0.3, 10.5, 0.5, u)
	if !ok {
		t.Fatalf("unexpected discard")
	}
	if !approx(c[0], 0.5) || !approx(c[1], 0.3) || !approx(c[2], 0) {
		t.Fatalf("colour %v", c)
	}
}

func TestFragmentSpectrum(t *testing.T) {
	u, _ := NewUniforms(config.ColorSpectrum, false, 4)
	c, _ := Fragment(1, 0, 0, 0.5, 1, u)
	want := RGB{1, 0.5 + 0.5*math.Cos(2), 0.5 + 0.5*math.Cos(4)}
	for i := range c {
		if !approx(c[i], want[i]) {
			t.Fatalf("spectrum colour %v want %v", c, want)
		}
	}
}

func TestFragmentScanlines(t *testing.T) {
	u, _ := NewUniforms(config.ColorWhite, true, 4)
	c, _ := Fragment(1, 0, 0, 0.5, 1, u)
	want := math.Sin(0.5*2)*0.05 + 0.9
	if !approx(c[0], want) {
		t.Fatalf("scanline factor %v want %v", c[0], want)
	}
}

func testAtlas(t *testing.T, glyphs string) *atlas.Atlas {
	t.Helper()
	f, err := atlas.LoadFont("")
	if err != nil {
		t.Fatal(err)
	}
	a, err := atlas.Build(f, []rune(glyphs), 128)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestPipelineDrawsGlyphInItsCell(t *testing.T) {
	a := testAtlas(t, "@ ")
	g := grid.New()
	if _, err := g.Resize(2, 1); err != nil {
		t.Fatal(err)
	}
	g.GlyphIndex[0], g.Brightness[0] = 1, 1 // space
	g.GlyphIndex[1], g.Brightness[1] = 0, 1 // @

	u, _ := NewUniforms(config.ColorGreen, false, a.CharsPerRow)
	p := NewPipeline(64, 32)
	fb := p.Draw(a, g, u)

	left, right := 0, 0
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			if fb.RGBAAt(x, y).G == 0 {
				continue
			}
			if x < 32 {
				left++
			} else {
				right++
			}
		}
	}
	if left != 0 {
		t.Fatalf("space cell lit %d pixels", left)
	}
	if right == 0 {
		t.Fatalf("@ cell drew nothing")
	}
	if px := fb.RGBAAt(0, 0); px.R != 0 || px.A != 255 {
		t.Fatalf("background should be opaque black, got %v", px)
	}
}

func TestPipelineZeroBrightnessIsBlack(t *testing.T) {
	a := testAtlas(t, "@")
	g := grid.New()
	_, _ = g.Resize(1, 1)
	u, _ := NewUniforms(config.ColorWhite, false, a.CharsPerRow)
	fb := NewPipeline(16, 16).Draw(a, g, u)
	for i := 0; i < len(fb.Pix); i += 4 {
		if fb.Pix[i] != 0 || fb.Pix[i+1] != 0 || fb.Pix[i+2] != 0 {
			t.Fatalf("pixel %d lit with zero brightness", i/4)
		}
	}
}
