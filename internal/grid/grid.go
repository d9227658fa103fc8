// Package grid owns the per-cell instance data: a static transform for
// every cell plus the brightness and glyph index written each tick.
package grid

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/guidoenr/glyphcast/internal/config"
)

// Vertex is one corner of the shared quad: local position and UV.
type Vertex struct {
	X, Y float32
	U, V float32
}

// Quad is the instanced geometry, two triangles over [-1,1]² with v=0 at
// the bottom edge.
var Quad = [6]Vertex{
	{-1, -1, 0, 0},
	{1, -1, 1, 0},
	{1, 1, 1, 1},
	{-1, -1, 0, 0},
	{1, 1, 1, 1},
	{-1, 1, 0, 1},
}

// Grid holds cols*rows instances. Instance i is cell (i%cols, i/cols)
// with row 0 at the top of the screen.
type Grid struct {
	cols, rows int

	Transforms []mgl32.Mat4
	Brightness []float32
	GlyphIndex []float32

	dirty      bool
	generation uint64
}

// New returns an empty grid; call Resize before use.
func New() *Grid {
	return &Grid{}
}

// Cols returns the column count.
func (g *Grid) Cols() int { return g.cols }

// Rows returns the row count.
func (g *Grid) Rows() int { return g.rows }

// Len returns the instance count.
func (g *Grid) Len() int { return g.cols * g.rows }

// Generation changes every time the instance set is recreated.
func (g *Grid) Generation() uint64 { return g.generation }

// Resize recreates the instance set if the dimensions changed and reports
// whether it did.
func (g *Grid) Resize(cols, rows int) (bool, error) {
	if cols < 1 || rows < 1 {
		return false, fmt.Errorf("grid %dx%d: %w", cols, rows, config.ErrInvalidResolution)
	}
	if cols == g.cols && rows == g.rows {
		return false, nil
	}

	n := cols * rows
	g.cols, g.rows = cols, rows
	g.Transforms = make([]mgl32.Mat4, n)
	g.Brightness = make([]float32, n)
	g.GlyphIndex = make([]float32, n)

	fc, fr := float32(cols), float32(rows)
	scale := mgl32.Scale3D(1/fc, 1/fr, 1)
	for i := range g.Transforms {
		col := float32(i % cols)
		row := float32(i / cols)
		x := (col - fc/2 + 0.5) / fc * 2
		y := -(row - fr/2 + 0.5) / fr * 2
		g.Transforms[i] = mgl32.Translate3D(x, y, 0).Mul4(scale)
	}
	g.generation++
	g.dirty = true
	return true, nil
}

// Center returns the NDC centre of instance i.
func (g *Grid) Center(i int) mgl32.Vec2 {
	t := g.Transforms[i].Col(3)
	return mgl32.Vec2{t.X(), t.Y()}
}

// Corner maps a local quad position of instance i into NDC, after the
// uniform grid scale.
func (g *Grid) Corner(i int, local mgl32.Vec2, scale float32) mgl32.Vec2 {
	p := mgl32.Scale3D(scale, scale, 1).Mul4(g.Transforms[i]).Mul4x1(mgl32.Vec4{local.X(), local.Y(), 0, 1})
	return mgl32.Vec2{p.X(), p.Y()}
}

// Commit marks the attribute arrays as rewritten for this tick.
func (g *Grid) Commit() {
	g.dirty = true
}

// TakeDirty reports whether the arrays need uploading and clears the flag.
func (g *Grid) TakeDirty() bool {
	d := g.dirty
	g.dirty = false
	return d
}
