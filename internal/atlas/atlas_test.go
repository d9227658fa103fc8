package atlas

import (
	"errors"
	"testing"

	"github.com/guidoenr/glyphcast/internal/config"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(Options{Size: 128})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func TestCharsPerRow(t *testing.T) {
	cases := map[int]int{
		1:  1,
		2:  2,
		4:  2,
		5:  3,
		10: 4,
		16: 4,
		17: 5,
	}
	for n, want := range cases {
		if got := CharsPerRow(n); got != want {
			t.Fatalf("CharsPerRow(%d)=%d want=%d", n, got, want)
		}
	}
}

func TestBuildLayout(t *testing.T) {
	b := newTestBuilder(t)
	a, rebuilt, err := b.Ensure("@%#*+=-:. ")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !rebuilt {
		t.Fatalf("first Ensure must build")
	}
	if a.CharsPerRow != 4 || a.CellSize != 32 {
		t.Fatalf("layout cpr=%d cell=%d", a.CharsPerRow, a.CellSize)
	}
	if got := a.Cell(5).Min; got.X != 32 || got.Y != 32 {
		t.Fatalf("cell 5 origin=%v", got)
	}
}

func TestBuildDrawsGlyphsOnDarkBackground(t *testing.T) {
	b := newTestBuilder(t)
	a, _, err := b.Ensure("@ ")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	lit := func(i int) int {
		n := 0
		r := a.Cell(i)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if a.Image.GrayAt(x, y).Y > 25 {
					n++
				}
			}
		}
		return n
	}
	if lit(0) == 0 {
		t.Fatalf("@ cell has no bright pixels")
	}
	if n := lit(1); n != 0 {
		t.Fatalf("space cell has %d bright pixels", n)
	}
	// bottom row is empty because two glyphs fit on one row of a 2x2 grid
	if a.Sample(0.1, 0.1) != 0 {
		t.Fatalf("background should sample as 0")
	}
}

func TestEnsureIsIdempotentForSameGlyphSet(t *testing.T) {
	b := newTestBuilder(t)
	first, _, _ := b.Ensure("01 ")
	again, rebuilt, err := b.Ensure("01 ")
	if err != nil || rebuilt || again != first {
		t.Fatalf("unchanged glyph set rebuilt: rebuilt=%v err=%v", rebuilt, err)
	}
}

func TestEnsureReleasesBeforeRebuild(t *testing.T) {
	b := newTestBuilder(t)
	var released []*Atlas
	b.OnRelease(func(a *Atlas) {
		if b.Current() != nil {
			t.Fatalf("replacement allocated before release")
		}
		released = append(released, a)
	})

	first, _, _ := b.Ensure("01 ")
	second, rebuilt, err := b.Ensure("10 ")
	if err != nil || !rebuilt {
		t.Fatalf("changed glyph set must rebuild: rebuilt=%v err=%v", rebuilt, err)
	}
	if len(released) != 1 || released[0] != first || !first.Released() {
		t.Fatalf("previous atlas not released")
	}
	if second.Generation != first.Generation+1 {
		t.Fatalf("generation %d -> %d", first.Generation, second.Generation)
	}
}

func TestEnsureRejectsEmptyGlyphSet(t *testing.T) {
	b := newTestBuilder(t)
	keep, _, _ := b.Ensure("ab")
	a, _, err := b.Ensure("")
	if !errors.Is(err, config.ErrEmptyGlyphSet) {
		t.Fatalf("expected ErrEmptyGlyphSet, got %v", err)
	}
	if a != keep || keep.Released() {
		t.Fatalf("failed ensure must keep the current atlas")
	}
}
