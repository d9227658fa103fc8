//go:build !sdl

package render

import "errors"

// SDL is unavailable without the sdl build tag.
type SDL struct {
	*Software
}

// NewSDL reports that the SDL backend is not compiled in.
func NewSDL(w, h int, title string) (*SDL, error) {
	return nil, errors.New("SDL backend not enabled; rebuild with -tags sdl")
}

// SupportsSDL reports whether the SDL backend is compiled in.
func SupportsSDL() bool { return false }
