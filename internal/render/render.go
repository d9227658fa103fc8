// Package render draws engine draw calls: as ANSI text in a terminal, into
// an offscreen framebuffer, or in an SDL or OpenGL window.
package render

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/engine"
)

// ErrRendererQuit is returned by Draw when the user closes the window.
var ErrRendererQuit = errors.New("renderer closed")

// Backend names accepted by New.
const (
	BackendTerminal = "terminal"
	BackendSoftware = "software"
	BackendSDL      = "sdl"
	BackendGL       = "gl"
)

// Options selects and sizes a backend.
type Options struct {
	Backend string
	// Width and Height are the window or framebuffer size in pixels.
	// The terminal backend ignores them.
	Width  int
	Height int
	Title  string
	// Out receives terminal frames; defaults to stdout.
	Out        io.Writer
	UseANSI    bool
	StatusLine bool
	// Status supplies extra text for the terminal status line.
	Status func() string
	Log    *log.Logger
}

// AtlasReleaser is implemented by backends holding GPU copies of atlases.
// Register ReleaseAtlas with atlas.Builder.OnRelease.
type AtlasReleaser interface {
	ReleaseAtlas(*atlas.Atlas)
}

// Names lists the backends compiled into this binary.
func Names() []string {
	names := []string{BackendTerminal, BackendSoftware}
	if SupportsSDL() {
		names = append(names, BackendSDL)
	}
	if SupportsGL() {
		names = append(names, BackendGL)
	}
	sort.Strings(names)
	return names
}

// New builds the named backend.
func New(opts Options) (engine.Backend, error) {
	if opts.Width <= 0 {
		opts.Width = 960
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	if opts.Title == "" {
		opts.Title = "glyphcast"
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = log.New(os.Stdout, "", log.LstdFlags)
	}

	switch strings.ToLower(opts.Backend) {
	case "", BackendTerminal:
		return NewTerminal(opts), nil
	case BackendSoftware:
		return NewSoftware(opts.Width, opts.Height), nil
	case BackendSDL:
		s, err := NewSDL(opts.Width, opts.Height, opts.Title)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendGL:
		g, err := NewGL(opts.Width, opts.Height, opts.Title, opts.Log)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (have %v)", opts.Backend, Names())
	}
}

func copyRGBA(src *image.RGBA) *image.RGBA {
	out := image.NewRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	return out
}
