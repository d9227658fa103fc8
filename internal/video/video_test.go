package video

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"testing"
	"time"

	"github.com/guidoenr/glyphcast/internal/segment"
)

type staticSource struct {
	img   image.Image
	ready bool
}

func (s staticSource) Ready() bool        { return s.ready }
func (s staticSource) Frame() image.Image { return s.img }

func fill(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestSampleNotReadyIsZero(t *testing.T) {
	s := NewSampler()
	out, ok := s.Sample(staticSource{img: fill(8, 8, color.White), ready: false}, 4, 3, nil, false)
	if ok {
		t.Fatalf("not-ready source must not be renderable")
	}
	if len(out) != 4*3*4 {
		t.Fatalf("len=%d", len(out))
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("byte %d = %d, want all zero", i, v)
		}
	}
	if _, ok := s.Sample(nil, 4, 3, nil, false); ok {
		t.Fatalf("nil source must not be renderable")
	}
}

func TestSampleUniformFrame(t *testing.T) {
	s := NewSampler()
	src := staticSource{img: fill(40, 30, color.RGBA{200, 100, 50, 255}), ready: true}
	out, ok := s.Sample(src, 4, 3, nil, false)
	if !ok {
		t.Fatalf("expected renderable frame")
	}
	for i := 0; i < 12; i++ {
		px := out[i*4 : i*4+4]
		if px[0] != 200 || px[1] != 100 || px[2] != 50 || px[3] != 255 {
			t.Fatalf("cell %d = %v", i, px)
		}
	}
}

func TestSampleReusesBuffers(t *testing.T) {
	s := NewSampler()
	src := staticSource{img: fill(8, 8, color.White), ready: true}
	a, _ := s.Sample(src, 4, 4, nil, false)
	b, _ := s.Sample(src, 4, 4, nil, false)
	if &a[0] != &b[0] {
		t.Fatalf("buffer reallocated without a resolution change")
	}
	c, _ := s.Sample(src, 5, 4, nil, false)
	if len(c) != 5*4*4 {
		t.Fatalf("resize len=%d", len(c))
	}
}

func TestSampleStraightAlpha(t *testing.T) {
	s := NewSampler()
	src := staticSource{img: fill(4, 4, color.NRGBA{200, 100, 50, 128}), ready: true}
	out, _ := s.Sample(src, 2, 2, nil, false)
	diff := func(a, b uint8) int {
		if a > b {
			return int(a - b)
		}
		return int(b - a)
	}
	if diff(out[0], 200) > 2 || diff(out[1], 100) > 2 || diff(out[2], 50) > 2 {
		t.Fatalf("colour was not un-premultiplied: %v", out[:4])
	}
	if diff(out[3], 128) > 1 {
		t.Fatalf("alpha=%d", out[3])
	}
}

func TestSampleMaskCompositesDestinationIn(t *testing.T) {
	s := NewSampler()
	src := staticSource{img: fill(16, 4, color.RGBA{90, 90, 90, 255}), ready: true}
	mask := segment.NewMask(8, 1)
	for x := 4; x < 8; x++ {
		mask.Alpha[x] = 255
	}

	out, _ := s.Sample(src, 4, 1, mask, true)
	if out[3] != 0 {
		t.Fatalf("masked-out cell alpha=%d want 0", out[3])
	}
	if out[0] != 90 {
		t.Fatalf("destination-in must keep colour, got %d", out[0])
	}
	if out[15] != 255 {
		t.Fatalf("foreground cell alpha=%d want 255", out[15])
	}

	out, _ = s.Sample(src, 4, 1, mask, false)
	if out[3] != 255 {
		t.Fatalf("mask applied without person-only mode")
	}
	out, _ = s.Sample(src, 4, 1, nil, true)
	if out[3] != 255 {
		t.Fatalf("missing mask must degrade to the full frame")
	}
}

func TestLatest(t *testing.T) {
	var l Latest
	if l.Ready() || l.Frame() != nil {
		t.Fatalf("empty mailbox should not be ready")
	}
	img := fill(1, 1, color.Black)
	l.Store(img)
	if !l.Ready() || l.Frame() != image.Image(img) || l.Frames() != 1 {
		t.Fatalf("stored frame not visible")
	}
}

func TestPatternSource(t *testing.T) {
	if _, err := NewPatternSource("lava", 4, 4); err == nil {
		t.Fatalf("expected unknown pattern error")
	}
	p, err := NewPatternSource("plasma", 32, 24)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(100, 0)
	p.start = now
	p.now = func() time.Time { return now }

	a := p.Frame()
	if a.Bounds().Dx() != 32 || a.Bounds().Dy() != 24 {
		t.Fatalf("bounds=%v", a.Bounds())
	}
	if b := p.Frame(); b != a {
		t.Fatalf("frames within the minimum step should be shared")
	}
	now = now.Add(50 * time.Millisecond)
	if c := p.Frame(); c == a {
		t.Fatalf("expected a fresh frame")
	}
}

func TestPatternNamesSorted(t *testing.T) {
	names := PatternNames()
	if len(names) != 5 || names[0] != "nebula" {
		t.Fatalf("names=%v", names)
	}
}

func TestGIFSourceFollowsDelays(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	frame := func(idx uint8) *image.Paletted {
		img := image.NewPaletted(image.Rect(0, 0, 2, 2), pal)
		for i := range img.Pix {
			img.Pix[i] = idx
		}
		return img
	}
	anim := &gif.GIF{
		Image:  []*image.Paletted{frame(0), frame(1)},
		Delay:  []int{10, 20},
		Config: image.Config{Width: 2, Height: 2},
	}
	s, err := newGIFSource(anim)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Unix(0, 0)
	now := start
	s.start = start
	s.now = func() time.Time { return now }

	lum := func() uint8 { return s.Frame().(*image.RGBA).Pix[0] }
	if lum() != 0 {
		t.Fatalf("frame 0 should be black")
	}
	now = start.Add(150 * time.Millisecond)
	if lum() != 255 {
		t.Fatalf("frame 1 should be white at 150ms")
	}
	now = start.Add(310 * time.Millisecond)
	if lum() != 0 {
		t.Fatalf("animation should loop")
	}
}
