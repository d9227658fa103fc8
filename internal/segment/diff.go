package segment

import (
	"context"
	"image"

	"golang.org/x/image/draw"
)

// DiffSegmenter marks pixels that differ from a slowly adapting
// background model. It needs no model files, which makes it the default
// when no external worker is configured.
type DiffSegmenter struct {
	Width     int     // analysis width
	Height    int     // analysis height
	Threshold float64 // luma difference (0..255) where foreground starts
	Softness  float64 // ramp width above Threshold
	Adapt     float64 // background learning rate for background pixels

	scratch *image.RGBA
	bg      []float64
	seq     uint64
}

// NewDiffSegmenter returns a segmenter working at w×h.
func NewDiffSegmenter(w, h int) *DiffSegmenter {
	return &DiffSegmenter{
		Width:     max(w, 1),
		Height:    max(h, 1),
		Threshold: 18,
		Softness:  24,
		Adapt:     0.02,
	}
}

// Segment returns a new mask for frame. The first frame seeds the
// background and yields an all-background mask.
func (d *DiffSegmenter) Segment(ctx context.Context, frame image.Image) (*Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.scratch == nil || d.scratch.Rect.Dx() != d.Width || d.scratch.Rect.Dy() != d.Height {
		d.scratch = image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
		d.bg = nil
	}
	draw.ApproxBiLinear.Scale(d.scratch, d.scratch.Rect, frame, frame.Bounds(), draw.Src, nil)

	n := d.Width * d.Height
	m := NewMask(d.Width, d.Height)
	d.seq++
	m.Seq = d.seq

	if d.bg == nil {
		d.bg = make([]float64, n)
		for i := range d.bg {
			d.bg[i] = luma(d.scratch.Pix[i*4:])
		}
		return m, nil
	}

	for i := 0; i < n; i++ {
		l := luma(d.scratch.Pix[i*4:])
		diff := l - d.bg[i]
		if diff < 0 {
			diff = -diff
		}
		a := 0.0
		if diff > d.Threshold {
			a = 1
			if d.Softness > 0 {
				a = min((diff-d.Threshold)/d.Softness, 1)
			}
		}
		m.Alpha[i] = uint8(a*255 + 0.5)
		if a == 0 {
			d.bg[i] += (l - d.bg[i]) * d.Adapt
		}
	}
	return m, nil
}

// Reset forgets the background model.
func (d *DiffSegmenter) Reset() {
	d.bg = nil
}

// Close implements Segmenter.
func (d *DiffSegmenter) Close() error {
	return nil
}

func luma(px []uint8) float64 {
	return 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
}
