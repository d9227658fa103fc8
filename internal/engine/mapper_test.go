package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/guidoenr/glyphcast/internal/analyzer"
)

func neutral(n int) Params {
	return Params{N: n, Contrast: 1, Brightness: BrightnessPivot}
}

func TestBaseIndexFollowsLuminance(t *testing.T) {
	m := NewMapper(rand.New(rand.NewSource(7)))
	p := neutral(10)
	prev := math.MaxInt
	for v := 0; v < 256; v++ {
		g := uint8(v)
		_, idx := m.Cell(g, g, g, 255, p, analyzer.Shaped{})
		lum := Luminance(g, g, g, p)
		want := int(math.Floor((1 - lum) * 9))
		if idx != want {
			t.Fatalf("gray %d: idx=%d want %d", v, idx, want)
		}
		if idx > prev {
			t.Fatalf("index increased with luminance at gray %d", v)
		}
		prev = idx
	}
}

func TestWhiteCellIsDensestGlyph(t *testing.T) {
	m := NewMapper(nil)
	b, idx := m.Cell(255, 255, 255, 255, neutral(len("@%#*+=-:. ")), analyzer.Shaped{})
	if idx != 0 || b != 1 {
		t.Fatalf("white cell: brightness=%v idx=%d", b, idx)
	}
}

func TestInvertIsInvolution(t *testing.T) {
	m := NewMapper(nil)
	p := neutral(10)
	for _, c := range [][3]uint8{{10, 20, 30}, {128, 128, 128}, {250, 90, 3}} {
		_, before := m.Cell(c[0], c[1], c[2], 255, p, analyzer.Shaped{})
		p.Invert = !p.Invert
		_, flipped := m.Cell(c[0], c[1], c[2], 255, p, analyzer.Shaped{})
		p.Invert = !p.Invert
		_, after := m.Cell(c[0], c[1], c[2], 255, p, analyzer.Shaped{})
		if before != after {
			t.Fatalf("%v: %d -> %d -> %d", c, before, flipped, after)
		}
		lum := Luminance(c[0], c[1], c[2], p)
		p.Invert = true
		if inv := Luminance(c[0], c[1], c[2], p); math.Abs(inv-(1-lum)) > 1e-12 {
			t.Fatalf("%v: inverted luminance %v want %v", c, inv, 1-lum)
		}
		p.Invert = false
	}
}

func TestPersonOnlyGate(t *testing.T) {
	m := NewMapper(rand.New(rand.NewSource(3)))
	loud := analyzer.Shaped{Vol: 1, Bass: 1, Treble: 1}
	for _, reactive := range []bool{false, true} {
		p := neutral(10)
		p.PersonOnly = true
		p.AudioReactivity = reactive
		b, idx := m.Cell(255, 255, 255, PersonAlphaCutoff-1, p, loud)
		if b != 0 || idx != 9 {
			t.Fatalf("reactive=%v: brightness=%v idx=%d", reactive, b, idx)
		}
		if _, idx := m.Cell(255, 255, 255, PersonAlphaCutoff, p, analyzer.Shaped{}); idx != 0 {
			t.Fatalf("foreground cell gated: idx=%d", idx)
		}
	}
}

func TestSilentAudioIsNoop(t *testing.T) {
	m := NewMapper(rand.New(rand.NewSource(9)))
	off := neutral(10)
	on := off
	on.AudioReactivity = true
	for v := 0; v < 256; v += 5 {
		g := uint8(v)
		b0, i0 := m.Cell(g, g/2, 255-g, 255, off, analyzer.Shaped{})
		b1, i1 := m.Cell(g, g/2, 255-g, 255, on, analyzer.Shaped{})
		if b0 != b1 || i0 != i1 {
			t.Fatalf("gray %d: off=(%v,%d) on=(%v,%d)", v, b0, i0, b1, i1)
		}
	}
}

func TestLoudPassageNeverBlank(t *testing.T) {
	m := NewMapper(rand.New(rand.NewSource(11)))
	p := neutral(10)
	p.AudioReactivity = true

	// Black cell starts at N-1 and a total shift of 10 wraps it back there.
	s := analyzer.Shaped{Vol: 0.9, Bass: 0.6}
	for i := 0; i < 200; i++ {
		_, idx := m.Cell(0, 0, 0, 255, p, s)
		if idx < 0 || idx >= 8 {
			t.Fatalf("remapped index %d outside [0,8)", idx)
		}
	}

	rng := rand.New(rand.NewSource(12))
	for i := 0; i < 2000; i++ {
		s := analyzer.Shaped{
			Vol:    0.06 + rng.Float64()*2,
			Bass:   rng.Float64() * 2,
			Treble: rng.Float64(),
		}
		c := uint8(rng.Intn(256))
		b, idx := m.Cell(c, c, c, 255, p, s)
		if idx == 9 || idx < 0 {
			t.Fatalf("vol=%v produced index %d", s.Vol, idx)
		}
		if b < 0 || b > 1 {
			t.Fatalf("brightness %v out of range", b)
		}
	}
}

func TestAudioShiftWraps(t *testing.T) {
	m := NewMapper(nil)
	p := neutral(10)
	p.AudioReactivity = true
	// white is index 0; vol 0.5 shifts by floor(4.5)=4 toward the end.
	_, idx := m.Cell(255, 255, 255, 255, p, analyzer.Shaped{Vol: 0.5})
	if idx != 6 {
		t.Fatalf("idx=%d want 6", idx)
	}
}

func TestSeededMapperIsReproducible(t *testing.T) {
	p := neutral(16)
	p.AudioReactivity = true
	s := analyzer.Shaped{Vol: 0.4, Bass: 0.3, Treble: 0.9}
	run := func() []float32 {
		m := NewMapper(rand.New(rand.NewSource(42)))
		px := make([]byte, 64*4)
		for i := range px {
			px[i] = byte(i * 7)
		}
		b := make([]float32, 64)
		g := make([]float32, 64)
		m.Frame(px, p, s, b, g)
		return g
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("cell %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSingleGlyphSet(t *testing.T) {
	m := NewMapper(rand.New(rand.NewSource(5)))
	p := neutral(1)
	p.AudioReactivity = true
	for _, c := range []uint8{0, 128, 255} {
		_, idx := m.Cell(c, c, c, 255, p, analyzer.Shaped{Vol: 1, Bass: 1, Treble: 1})
		if idx != 0 {
			t.Fatalf("N=1 gave index %d", idx)
		}
	}
}
