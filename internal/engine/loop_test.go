package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/guidoenr/glyphcast/internal/analyzer"
	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/segment"
	"github.com/guidoenr/glyphcast/internal/video"
)

type recordingBackend struct {
	calls  []DrawCall
	closed bool
}

func (b *recordingBackend) Draw(c DrawCall) error {
	b.calls = append(b.calls, c)
	return nil
}

func (b *recordingBackend) Snapshot() (image.Image, error) {
	if len(b.calls) == 0 {
		return nil, ErrNoFrame
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

type constAudio analyzer.Features

func (c constAudio) Poll() analyzer.Features { return analyzer.Features(c) }

type pendingSource struct{}

func (pendingSource) Ready() bool        { return false }
func (pendingSource) Frame() image.Image { return nil }

func grayFrame(v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	draw.Draw(img, img.Rect, &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
	return img
}

func newTestLoop(t *testing.T, cfg config.Config, audio AudioPoller) (*Loop, *recordingBackend, *config.Store, *atlas.Builder) {
	t.Helper()
	store, err := config.NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	builder, err := atlas.NewBuilder(atlas.Options{Size: 64})
	if err != nil {
		t.Fatal(err)
	}
	backend := &recordingBackend{}
	l, err := New(Config{
		Store:   store,
		Atlas:   builder,
		Backend: backend,
		Audio:   audio,
		Masks:   &segment.Slot{},
		Rand:    rand.New(rand.NewSource(1)),
		Log:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return l, backend, store, builder
}

func smallConfig() config.Config {
	cfg := config.Defaults()
	cfg.ResolutionWidth = 8
	cfg.ResolutionHeight = 6
	cfg.GlyphSet = "@%#*+=-:. "
	cfg.AudioReactivity = false
	return cfg
}

func TestIdleLoopSkips(t *testing.T) {
	l, backend, _, _ := newTestLoop(t, smallConfig(), nil)
	if l.State() != Idle {
		t.Fatalf("state=%v", l.State())
	}
	drawn, err := l.Tick(time.Unix(0, 0))
	if err != nil || drawn {
		t.Fatalf("drawn=%v err=%v", drawn, err)
	}
	l.SetSource(pendingSource{})
	if l.State() != Active {
		t.Fatalf("state=%v", l.State())
	}
	drawn, err = l.Tick(time.Unix(1, 0))
	if err != nil || drawn {
		t.Fatalf("unready source drew: drawn=%v err=%v", drawn, err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("partial draw issued")
	}
	if st := l.Status(); st.Skipped != 2 || st.Frames != 0 {
		t.Fatalf("status=%+v", st)
	}
}

func TestActiveTickDrawsEveryInstance(t *testing.T) {
	l, backend, _, _ := newTestLoop(t, smallConfig(), nil)
	l.SetSource(video.NewImageSource(grayFrame(255)))

	drawn, err := l.Tick(time.Unix(10, 0))
	if err != nil || !drawn {
		t.Fatalf("drawn=%v err=%v", drawn, err)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("calls=%d", len(backend.calls))
	}
	c := backend.calls[0]
	if c.Grid.Len() != 48 || len(c.Grid.GlyphIndex) != 48 {
		t.Fatalf("instances=%d", c.Grid.Len())
	}
	if !c.Dirty || !c.Resized {
		t.Fatalf("first call should be dirty and resized: %+v", c)
	}
	for i, g := range c.Grid.GlyphIndex {
		if g != 0 {
			t.Fatalf("white cell %d mapped to glyph %v", i, g)
		}
	}
	if c.Uniforms.Scale != 1 || c.Uniforms.CharsPerRow != 4 || c.Uniforms.Time != 0 {
		t.Fatalf("uniforms=%+v", c.Uniforms)
	}

	if _, err := l.Tick(time.Unix(11, 0)); err != nil {
		t.Fatal(err)
	}
	c = backend.calls[1]
	if c.Resized || !c.Dirty || c.Uniforms.Time != 1 {
		t.Fatalf("second call: resized=%v dirty=%v time=%v", c.Resized, c.Dirty, c.Uniforms.Time)
	}
}

func TestConfigChangesApplyAtTickStart(t *testing.T) {
	l, backend, store, builder := newTestLoop(t, smallConfig(), nil)
	l.SetSource(video.NewImageSource(grayFrame(0)))
	if _, err := l.Tick(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	first := builder.Current()

	if _, err := store.Update(func(c *config.Config) {
		c.ResolutionWidth = 3
		c.ResolutionHeight = 2
		c.GlyphSet = "#. "
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Tick(time.Unix(1, 0)); err != nil {
		t.Fatal(err)
	}
	c := backend.calls[1]
	if c.Grid.Len() != 6 || !c.Resized {
		t.Fatalf("grid not rebuilt: len=%d", c.Grid.Len())
	}
	if !first.Released() || c.Atlas == first || c.Atlas.CharsPerRow != 2 {
		t.Fatalf("atlas not rebuilt for new glyph set")
	}
	for i, g := range c.Grid.GlyphIndex {
		if g != 2 {
			t.Fatalf("black cell %d = %v want last glyph", i, g)
		}
	}
}

func TestAudioDrivesUniforms(t *testing.T) {
	cfg := smallConfig()
	cfg.AudioReactivity = true
	cfg.Smoothing = 0
	cfg.Sensitivity = 1
	cfg.ColorMode = config.ColorSpectrum
	l, backend, _, _ := newTestLoop(t, cfg, constAudio{RMS: 0.5, Bass: 1, Treble: 0.1})
	l.SetSource(video.NewImageSource(grayFrame(128)))

	if _, err := l.Tick(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	u := backend.calls[0].Uniforms
	if math.Abs(u.Scale-1.08) > 1e-9 {
		t.Fatalf("scale=%v", u.Scale)
	}
	wantTime := math.Pow(0.5, analyzer.ShapeExponent) * 0.2
	if math.Abs(u.Time-wantTime) > 1e-9 {
		t.Fatalf("time=%v want %v", u.Time, wantTime)
	}
	if math.Abs(u.Treble-math.Pow(0.1, analyzer.ShapeExponent)) > 1e-9 {
		t.Fatalf("treble=%v", u.Treble)
	}
	if !u.Spectrum {
		t.Fatalf("spectrum flag not set")
	}
}

func TestPersonOnlyUsesPublishedMask(t *testing.T) {
	cfg := smallConfig()
	cfg.PersonOnly = true
	cfg.ResolutionWidth, cfg.ResolutionHeight = 2, 1
	l, backend, _, _ := newTestLoop(t, cfg, nil)
	l.SetSource(video.NewImageSource(grayFrame(255)))

	mask := segment.NewMask(2, 1)
	mask.Alpha[1] = 255
	l.masks.Publish(mask)

	if _, err := l.Tick(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	g := backend.calls[0].Grid
	if g.Brightness[0] != 0 || g.GlyphIndex[0] != 9 {
		t.Fatalf("masked cell = (%v,%v)", g.Brightness[0], g.GlyphIndex[0])
	}
	if g.Brightness[1] == 0 || g.GlyphIndex[1] != 0 {
		t.Fatalf("foreground cell = (%v,%v)", g.Brightness[1], g.GlyphIndex[1])
	}
}

func TestRunServesSnapshotsAndStops(t *testing.T) {
	l, backend, _, builder := newTestLoop(t, smallConfig(), nil)
	l.SetSource(video.NewImageSource(grayFrame(200)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, 200) }()

	var img image.Image
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sctx, scancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		got, err := l.Snapshot(sctx)
		scancel()
		if err == nil {
			img = got
			break
		}
		if !errors.Is(err, ErrNoFrame) {
			t.Fatalf("snapshot: %v", err)
		}
	}
	if img == nil {
		t.Fatalf("no snapshot before deadline")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !backend.closed || builder.Current() != nil {
		t.Fatalf("run did not release resources")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := l.Snapshot(ctx2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("snapshot on stopped loop: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected wiring error")
	}
}
