package video

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/guidoenr/glyphcast/internal/segment"
)

// Sampler downsamples frames into a cols×rows buffer of straight-alpha
// RGBA bytes, four per cell, row-major from the top-left cell.
//
// The foreground mask is composited destination-in: a cell keeps its
// colour and its alpha becomes frameAlpha*maskAlpha/255.
type Sampler struct {
	Scaler draw.Scaler

	cols, rows int
	scratch    *image.RGBA
	maskBuf    *image.Alpha
	out        []byte
}

// NewSampler uses bilinear filtering.
func NewSampler() *Sampler {
	return &Sampler{Scaler: draw.ApproxBiLinear}
}

func (s *Sampler) ensure(cols, rows int) {
	if cols == s.cols && rows == s.rows && s.scratch != nil {
		return
	}
	s.cols, s.rows = cols, rows
	r := image.Rect(0, 0, cols, rows)
	s.scratch = image.NewRGBA(r)
	s.maskBuf = image.NewAlpha(r)
	s.out = make([]byte, cols*rows*4)
}

// Sample reduces the current frame of src to cols×rows cells. The second
// result is false, with an all-zero buffer, when there is no ready frame.
// The returned slice is reused by the next call.
func (s *Sampler) Sample(src Source, cols, rows int, mask *segment.Mask, personOnly bool) ([]byte, bool) {
	if cols < 1 || rows < 1 {
		return nil, false
	}
	s.ensure(cols, rows)

	var frame image.Image
	if src != nil && src.Ready() {
		frame = src.Frame()
	}
	if frame == nil || frame.Bounds().Empty() {
		clear(s.out)
		return s.out, false
	}

	s.Scaler.Scale(s.scratch, s.scratch.Rect, frame, frame.Bounds(), draw.Src, nil)

	useMask := personOnly && mask.Valid()
	if useMask {
		s.Scaler.Scale(s.maskBuf, s.maskBuf.Rect, mask.Image(), mask.Image().Rect, draw.Src, nil)
	}

	pix := s.scratch.Pix
	for i := 0; i < cols*rows; i++ {
		o := i * 4
		r, g, b, a := pix[o], pix[o+1], pix[o+2], pix[o+3]
		if a != 0 && a != 255 {
			r = unpremultiply(r, a)
			g = unpremultiply(g, a)
			b = unpremultiply(b, a)
		}
		if useMask {
			a = uint8((uint32(a)*uint32(s.maskBuf.Pix[i]) + 127) / 255)
		}
		s.out[o], s.out[o+1], s.out[o+2], s.out[o+3] = r, g, b, a
	}
	return s.out, true
}

func unpremultiply(c, a uint8) uint8 {
	v := (uint32(c)*255 + uint32(a)/2) / uint32(a)
	if v > 255 {
		return 255
	}
	return uint8(v)
}
