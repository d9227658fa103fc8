//go:build sdl

package render

import (
	"fmt"

	"github.com/guidoenr/glyphcast/internal/engine"
	"github.com/veandco/go-sdl2/sdl"
)

// SDL presents the software framebuffer in a window.
type SDL struct {
	*Software

	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	width    int
	height   int
	pitch    int
	title    string
}

// NewSDL opens a w×h window.
func NewSDL(w, h int, title string) (*SDL, error) {
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}
	s := &SDL{Software: NewSoftware(w, h), width: w, height: h, pitch: w * 4, title: title}

	window, err := sdl.CreateWindow(
		title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(w), int32(h),
		sdl.WINDOW_SHOWN,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create window: %w", err)
	}
	s.window = window

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	s.renderer = renderer
	_ = renderer.SetLogicalSize(int32(w), int32(h))

	tex, err := renderer.CreateTexture(
		sdl.PIXELFORMAT_ABGR8888,
		sdl.TEXTUREACCESS_STREAMING,
		int32(w), int32(h),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create texture: %w", err)
	}
	s.texture = tex
	return s, nil
}

// Draw rasterizes on the CPU and presents the result.
func (s *SDL) Draw(c engine.DrawCall) error {
	if err := s.Software.Draw(c); err != nil {
		return err
	}
	if title := fmt.Sprintf("glyphcast | %s %dx%d", c.Config.ColorMode, c.Grid.Cols(), c.Grid.Rows()); title != s.title {
		s.window.SetTitle(title)
		s.title = title
	}
	fb := s.Frame()
	if err := s.texture.Update(nil, fb.Pix, s.pitch); err != nil {
		return err
	}
	if err := s.renderer.Clear(); err != nil {
		return err
	}
	if err := s.renderer.Copy(s.texture, nil, nil); err != nil {
		return err
	}
	s.renderer.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return ErrRendererQuit
		}
	}
	return nil
}

// Close destroys the window.
func (s *SDL) Close() error {
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	if s.renderer != nil {
		s.renderer.Destroy()
		s.renderer = nil
	}
	if s.window != nil {
		s.window.Destroy()
		s.window = nil
	}
	sdl.QuitSubSystem(sdl.INIT_VIDEO)
	return nil
}

// SupportsSDL reports whether the SDL backend is compiled in.
func SupportsSDL() bool { return true }
