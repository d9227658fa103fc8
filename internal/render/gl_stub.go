//go:build !gl

package render

import (
	"errors"
	"image"
	"log"

	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/engine"
)

// GL is unavailable without the gl build tag.
type GL struct{}

// NewGL reports that the OpenGL backend is not compiled in.
func NewGL(w, h int, title string, logger *log.Logger) (*GL, error) {
	return nil, errors.New("OpenGL backend not enabled; rebuild with -tags gl")
}

func (g *GL) Draw(engine.DrawCall) error       { return ErrRendererQuit }
func (g *GL) Snapshot() (image.Image, error)   { return nil, engine.ErrNoFrame }
func (g *GL) Close() error                     { return nil }
func (g *GL) ReleaseAtlas(*atlas.Atlas)        {}

// SupportsGL reports whether the OpenGL backend is compiled in.
func SupportsGL() bool { return false }
