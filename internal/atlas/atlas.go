// Package atlas rasterizes a glyph set into a square texture with one
// fixed-size cell per glyph.
package atlas

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/math/fixed"

	"github.com/guidoenr/glyphcast/internal/config"
)

// DefaultSize is the edge length of the atlas raster in pixels.
const DefaultSize = 1024

// Options controls how atlases are rasterized.
type Options struct {
	Size     int
	FontPath string // TrueType file; empty uses Go Mono Bold
}

// Atlas is one rasterized glyph set. Glyph i occupies the cell at
// column i%CharsPerRow, row i/CharsPerRow, counted from the top left.
type Atlas struct {
	Image       *image.Gray
	Glyphs      []rune
	Key         string
	CharsPerRow int
	CellSize    int
	Size        int
	Generation  uint64

	released bool
}

// Cell returns the pixel rectangle holding glyph i.
func (a *Atlas) Cell(i int) image.Rectangle {
	col := i % a.CharsPerRow
	row := i / a.CharsPerRow
	origin := image.Pt(col*a.CellSize, row*a.CellSize)
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(a.CellSize, a.CellSize))}
}

// Sample returns the intensity in [0,1] at texture coordinate (u,v) using
// nearest filtering. v=0 is the bottom row, matching a flipped upload.
func (a *Atlas) Sample(u, v float64) float64 {
	if a.Image == nil {
		return 0
	}
	x := int(u * float64(a.Size))
	y := int((1 - v) * float64(a.Size))
	x = min(max(x, 0), a.Size-1)
	y = min(max(y, 0), a.Size-1)
	return float64(a.Image.Pix[y*a.Image.Stride+x]) / 255
}

// Released reports whether the builder has disposed of this atlas.
func (a *Atlas) Released() bool {
	return a.released
}

// CharsPerRow is ceil(sqrt(n)), the grid edge for n glyphs.
func CharsPerRow(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// LoadFont parses the TrueType file at path, or the embedded Go Mono Bold
// when path is empty.
func LoadFont(path string) (*truetype.Font, error) {
	data := gomonobold.TTF
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return f, nil
}

// Build rasterizes glyphs white on black, each centred in its cell.
func Build(f *truetype.Font, glyphs []rune, size int) (*Atlas, error) {
	if len(glyphs) == 0 {
		return nil, fmt.Errorf("atlas: %w", config.ErrEmptyGlyphSet)
	}
	if size <= 0 {
		size = DefaultSize
	}
	cpr := CharsPerRow(len(glyphs))
	cell := size / cpr
	if cell < 1 {
		return nil, fmt.Errorf("atlas: %d glyphs do not fit a %dpx raster", len(glyphs), size)
	}

	face := truetype.NewFace(f, &truetype.Options{
		Size:    float64(cell) * 0.9,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	defer face.Close()

	img := image.NewGray(image.Rect(0, 0, size, size))
	metrics := face.Metrics()
	height := metrics.Ascent + metrics.Descent
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}

	a := &Atlas{
		Image:       img,
		Glyphs:      append([]rune(nil), glyphs...),
		Key:         string(glyphs),
		CharsPerRow: cpr,
		CellSize:    cell,
		Size:        size,
	}
	for i, r := range glyphs {
		rect := a.Cell(i)
		adv := d.MeasureString(string(r))
		d.Dot = fixed.Point26_6{
			X: fixed.I(rect.Min.X) + (fixed.I(cell)-adv)/2,
			Y: fixed.I(rect.Min.Y) + (fixed.I(cell)-height)/2 + metrics.Ascent,
		}
		d.DrawString(string(r))
	}
	return a, nil
}

// Builder keeps the current atlas and rebuilds it only when the glyph set
// string changes.
type Builder struct {
	font  *truetype.Font
	size  int
	cur   *Atlas
	gen   uint64
	hooks []func(*Atlas)
}

// NewBuilder loads the font once for every later build.
func NewBuilder(opts Options) (*Builder, error) {
	f, err := LoadFont(opts.FontPath)
	if err != nil {
		return nil, err
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	return &Builder{font: f, size: size}, nil
}

// OnRelease registers fn to run when an atlas is disposed, before its
// replacement is allocated. Backends use it to free textures.
func (b *Builder) OnRelease(fn func(*Atlas)) {
	b.hooks = append(b.hooks, fn)
}

// Current returns the live atlas, or nil before the first build.
func (b *Builder) Current() *Atlas {
	return b.cur
}

// Ensure returns an atlas for glyphSet, reporting whether it was rebuilt.
func (b *Builder) Ensure(glyphSet string) (*Atlas, bool, error) {
	if glyphSet == "" {
		return b.cur, false, fmt.Errorf("atlas: %w", config.ErrEmptyGlyphSet)
	}
	if b.cur != nil && b.cur.Key == glyphSet {
		return b.cur, false, nil
	}
	b.Release()

	a, err := Build(b.font, []rune(glyphSet), b.size)
	if err != nil {
		return nil, false, err
	}
	b.gen++
	a.Generation = b.gen
	b.cur = a
	return a, true, nil
}

// Release disposes of the current atlas.
func (b *Builder) Release() {
	if b.cur == nil {
		return
	}
	old := b.cur
	b.cur = nil
	for _, fn := range b.hooks {
		fn(old)
	}
	old.released = true
	old.Image = nil
}
