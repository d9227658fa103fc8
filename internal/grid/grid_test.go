package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/guidoenr/glyphcast/internal/config"
)

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestResizeCreatesOneInstancePerCell(t *testing.T) {
	g := New()
	cases := map[string][2]int{
		"single": {1, 1},
		"wide":   {120, 90},
		"column": {1, 7},
	}
	for name, dims := range cases {
		if _, err := g.Resize(dims[0], dims[1]); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		n := dims[0] * dims[1]
		if g.Len() != n || len(g.Transforms) != n || len(g.Brightness) != n || len(g.GlyphIndex) != n {
			t.Fatalf("%s: lengths %d/%d/%d want %d", name, len(g.Transforms), len(g.Brightness), len(g.GlyphIndex), n)
		}
	}
}

func TestResizeSpansNDCFromTopLeft(t *testing.T) {
	g := New()
	if _, err := g.Resize(4, 3); err != nil {
		t.Fatal(err)
	}
	topLeft := g.Corner(0, mgl32.Vec2{-1, 1}, 1)
	if !near(topLeft.X(), -1) || !near(topLeft.Y(), 1) {
		t.Fatalf("cell 0 top-left corner = %v", topLeft)
	}
	bottomRight := g.Corner(g.Len()-1, mgl32.Vec2{1, -1}, 1)
	if !near(bottomRight.X(), 1) || !near(bottomRight.Y(), -1) {
		t.Fatalf("last cell bottom-right corner = %v", bottomRight)
	}
	// cell 1 sits right of cell 0, cell 4 below it
	c0, c1, c4 := g.Center(0), g.Center(1), g.Center(4)
	if !near(c1.X()-c0.X(), 0.5) || !near(c1.Y(), c0.Y()) {
		t.Fatalf("cell 1 centre %v relative to %v", c1, c0)
	}
	if !near(c0.Y()-c4.Y(), 2.0/3) {
		t.Fatalf("cell 4 centre %v relative to %v", c4, c0)
	}
}

func TestCornerAppliesScale(t *testing.T) {
	g := New()
	_, _ = g.Resize(2, 2)
	p := g.Corner(0, mgl32.Vec2{-1, 1}, 1.5)
	if !near(p.X(), -1.5) || !near(p.Y(), 1.5) {
		t.Fatalf("scaled corner = %v", p)
	}
}

func TestResizeOnlyOnChange(t *testing.T) {
	g := New()
	if changed, _ := g.Resize(8, 6); !changed {
		t.Fatalf("first resize must build")
	}
	gen := g.Generation()
	if changed, _ := g.Resize(8, 6); changed || g.Generation() != gen {
		t.Fatalf("same dimensions rebuilt the grid")
	}
	if changed, _ := g.Resize(8, 7); !changed || g.Generation() != gen+1 {
		t.Fatalf("row change did not rebuild")
	}
}

func TestResizeRejectsNonPositive(t *testing.T) {
	g := New()
	_, _ = g.Resize(3, 3)
	for _, dims := range [][2]int{{0, 3}, {3, 0}, {-1, -1}} {
		if _, err := g.Resize(dims[0], dims[1]); !errors.Is(err, config.ErrInvalidResolution) {
			t.Fatalf("%v: expected ErrInvalidResolution, got %v", dims, err)
		}
	}
	if g.Len() != 9 {
		t.Fatalf("rejected resize changed the grid")
	}
}

func TestDirtyFlag(t *testing.T) {
	g := New()
	_, _ = g.Resize(2, 2)
	if !g.TakeDirty() {
		t.Fatalf("fresh grid should be dirty")
	}
	if g.TakeDirty() {
		t.Fatalf("TakeDirty must clear the flag")
	}
	g.Commit()
	if !g.TakeDirty() {
		t.Fatalf("Commit must set the flag")
	}
}
