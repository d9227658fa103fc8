// Package segment produces foreground masks for person-only rendering and
// publishes the latest one into a shared slot.
package segment

import (
	"image"
	"sync/atomic"
)

// Mask is a straight (non-premultiplied) foreground alpha map, row-major
// from the top-left corner. 255 is fully foreground.
type Mask struct {
	Width  int
	Height int
	Alpha  []uint8
	Seq    uint64
}

// NewMask allocates an all-background mask.
func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Alpha: make([]uint8, w*h)}
}

// At returns the alpha at (x, y), or 0 outside the mask.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Alpha[y*m.Width+x]
}

// Valid reports whether the buffer matches the dimensions.
func (m *Mask) Valid() bool {
	return m != nil && m.Width > 0 && m.Height > 0 && len(m.Alpha) == m.Width*m.Height
}

// Image views the mask as an *image.Alpha without copying.
func (m *Mask) Image() *image.Alpha {
	return &image.Alpha{
		Pix:    m.Alpha,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// Slot holds the most recently published mask. Publishers replace it
// whole; readers keep using what they loaded. Last write wins.
type Slot struct {
	cur       atomic.Pointer[Mask]
	published atomic.Uint64
}

// Publish stores m as the latest mask. Published masks must not be
// modified afterwards.
func (s *Slot) Publish(m *Mask) {
	if !m.Valid() {
		return
	}
	s.cur.Store(m)
	s.published.Add(1)
}

// Load returns the latest mask, or nil if none was published.
func (s *Slot) Load() *Mask {
	return s.cur.Load()
}

// Published counts accepted masks.
func (s *Slot) Published() uint64 {
	return s.published.Load()
}

// Clear drops the current mask.
func (s *Slot) Clear() {
	s.cur.Store(nil)
}
