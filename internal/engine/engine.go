// Package engine runs the per-tick pipeline: poll audio, sample the
// frame, map cells to glyphs and hand one instanced draw to a backend.
package engine

import (
	"image"

	"github.com/guidoenr/glyphcast/internal/analyzer"
	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/grid"
	"github.com/guidoenr/glyphcast/internal/shader"
)

// DrawCall is everything a backend needs for one frame. The atlas and grid
// belong to the loop and must not be retained past Draw.
type DrawCall struct {
	Atlas    *atlas.Atlas
	Grid     *grid.Grid
	Uniforms shader.Uniforms
	// Dirty is true when the per-instance arrays changed since the last call.
	Dirty bool
	// Resized is true when the grid was rebuilt for this call.
	Resized  bool
	Config   config.Config
	Features analyzer.Features
	Shaped   analyzer.Shaped
}

// Backend draws every instance of a DrawCall in one go.
type Backend interface {
	Draw(DrawCall) error
	// Snapshot returns the last drawn frame.
	Snapshot() (image.Image, error)
	Close() error
}

// AudioPoller is the non-blocking view of an audio source.
type AudioPoller interface {
	Poll() analyzer.Features
}

// Tracer receives per-tick section timings.
type Tracer interface {
	BeginFrame()
	Mark(section string)
	EndFrame()
}

type noopTracer struct{}

func (noopTracer) BeginFrame() {}
func (noopTracer) Mark(string) {}
func (noopTracer) EndFrame()   {}

// State is the loop lifecycle.
type State int

const (
	// Idle has no frame source; ticks only poll audio.
	Idle State = iota
	// Active has a frame source attached.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Status is a read-only summary published after every tick.
type Status struct {
	State    string            `json:"state"`
	Frames   uint64            `json:"frames"`
	Skipped  uint64            `json:"skipped"`
	Cols     int               `json:"cols"`
	Rows     int               `json:"rows"`
	Glyphs   int               `json:"glyphs"`
	FPS      float64           `json:"fps"`
	Features analyzer.Features `json:"features"`
	Shaped   analyzer.Shaped   `json:"shaped"`
	Error    string            `json:"error,omitempty"`
}
