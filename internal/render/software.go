package render

import (
	"image"

	"github.com/guidoenr/glyphcast/internal/engine"
	"github.com/guidoenr/glyphcast/internal/shader"
)

// Software runs the glyph program on the CPU into an offscreen
// framebuffer. It is the headless backend and the base of the SDL one.
type Software struct {
	pipe   *shader.Pipeline
	drawn  bool
	frames uint64
	// OnFrame, if set, sees the framebuffer after every draw. It must not
	// keep the image.
	OnFrame func(*image.RGBA)
}

// NewSoftware allocates a w×h framebuffer.
func NewSoftware(w, h int) *Software {
	return &Software{pipe: shader.NewPipeline(w, h)}
}

// Draw executes the call.
func (s *Software) Draw(c engine.DrawCall) error {
	fb := s.pipe.Draw(c.Atlas, c.Grid, c.Uniforms)
	s.drawn = true
	s.frames++
	if s.OnFrame != nil {
		s.OnFrame(fb)
	}
	return nil
}

// Frame returns the live framebuffer.
func (s *Software) Frame() *image.RGBA {
	return s.pipe.Framebuffer()
}

// Frames counts draws.
func (s *Software) Frames() uint64 {
	return s.frames
}

// Snapshot copies the last frame.
func (s *Software) Snapshot() (image.Image, error) {
	if !s.drawn {
		return nil, engine.ErrNoFrame
	}
	return copyRGBA(s.pipe.Framebuffer()), nil
}

// Close is a no-op.
func (s *Software) Close() error { return nil }
