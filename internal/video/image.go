package video

import (
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSource serves a still image, or loops the frames of an animated
// GIF on their own delays.
type ImageSource struct {
	frames []*image.RGBA
	delays []time.Duration
	total  time.Duration
	start  time.Time
	now    func() time.Time
}

// OpenImage decodes a png, jpeg, gif, bmp, tiff or webp file.
func OpenImage(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".gif") {
		anim, err := gif.DecodeAll(f)
		if err != nil {
			return nil, fmt.Errorf("decode gif %s: %w", path, err)
		}
		return newGIFSource(anim)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return NewImageSource(img), nil
}

// NewImageSource serves img forever.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{
		frames: []*image.RGBA{toRGBA(img)},
		delays: []time.Duration{0},
		start:  time.Now(),
		now:    time.Now,
	}
}

func newGIFSource(anim *gif.GIF) (*ImageSource, error) {
	if len(anim.Image) == 0 {
		return nil, fmt.Errorf("gif contains no frames")
	}
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	s := &ImageSource{start: time.Now(), now: time.Now}
	for i, frame := range anim.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		snap := image.NewRGBA(bounds)
		copy(snap.Pix, canvas.Pix)
		delay := 100 * time.Millisecond
		if i < len(anim.Delay) && anim.Delay[i] > 0 {
			delay = time.Duration(anim.Delay[i]) * 10 * time.Millisecond
		}
		s.frames = append(s.frames, snap)
		s.delays = append(s.delays, delay)
		s.total += delay
		if i < len(anim.Disposal) && anim.Disposal[i] == gif.DisposalBackground {
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}
	return s, nil
}

// Ready is always true.
func (s *ImageSource) Ready() bool { return true }

// Frame returns the frame due now.
func (s *ImageSource) Frame() image.Image {
	if len(s.frames) == 1 || s.total <= 0 {
		return s.frames[0]
	}
	pos := s.now().Sub(s.start) % s.total
	for i, d := range s.delays {
		if pos < d {
			return s.frames[i]
		}
		pos -= d
	}
	return s.frames[len(s.frames)-1]
}

// Len returns the number of frames.
func (s *ImageSource) Len() int { return len(s.frames) }

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}
