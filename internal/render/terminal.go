package render

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guidoenr/glyphcast/internal/engine"
	"github.com/guidoenr/glyphcast/internal/shader"
	"golang.org/x/term"
)

// Snapshot cell size for the terminal backend, in pixels.
const (
	snapshotCellW = 8
	snapshotCellH = 16
)

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// Terminal prints each draw call as a block of coloured glyphs, one
// character per grid cell.
type Terminal struct {
	out        *bufio.Writer
	useANSI    bool
	statusLine bool
	status     func() string
	now        func() time.Time

	lines         []string
	started       bool
	last          engine.DrawCall
	hasLast       bool
	lastDraw      time.Time
	fps           float64
	statusBuilder strings.Builder
}

// NewTerminal writes frames to opts.Out.
func NewTerminal(opts Options) *Terminal {
	return &Terminal{
		out:        bufio.NewWriterSize(opts.Out, 64<<10),
		useANSI:    opts.UseANSI,
		statusLine: opts.StatusLine,
		status:     opts.Status,
		now:        time.Now,
	}
}

// TerminalSize returns the character grid of the terminal on fd.
func TerminalSize(fd int) (cols, rows int, err error) {
	if fd < 0 {
		return 0, 0, fmt.Errorf("invalid terminal fd %d", fd)
	}
	return term.GetSize(fd)
}

// Draw renders the grid as text and writes it in one go.
func (t *Terminal) Draw(c engine.DrawCall) error {
	if c.Atlas == nil || c.Grid == nil || c.Grid.Len() == 0 {
		return nil
	}
	now := t.now()
	if !t.lastDraw.IsZero() {
		if dt := now.Sub(t.lastDraw).Seconds(); dt > 0 {
			t.fps = 1 / dt
		}
	}
	t.lastDraw = now
	t.last, t.hasLast = c, true

	t.buildLines(c)

	if !t.started {
		enterAltScreen(t.out)
		clearScreen(t.out)
		hideCursor(t.out)
		t.started = true
	}
	moveCursorHome(t.out)
	for _, line := range t.lines {
		t.out.WriteString(line)
		t.out.WriteString("\r\n")
	}
	if t.statusLine {
		t.out.WriteString(statusBar(t.buildStatus(c), c.Grid.Cols()))
	}
	return t.out.Flush()
}

// buildLines fills t.lines, one row per worker job.
func (t *Terminal) buildLines(c engine.DrawCall) {
	cols, rows := c.Grid.Cols(), c.Grid.Rows()
	if len(t.lines) != rows {
		t.lines = make([]string, rows)
	}

	numWorkers := min(runtime.GOMAXPROCS(0), rows)
	numWorkers = max(numWorkers, 1)

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var builder strings.Builder
			for y := range rowJobs {
				builder.Reset()
				builder.Grow(cols * 8)
				lastColor := -1
				for x := 0; x < cols; x++ {
					ch, fg := t.cell(c, y*cols+x, y, rows)
					if t.useANSI && fg != lastColor {
						builder.WriteString(colorCode(fg))
						lastColor = fg
					}
					builder.WriteRune(ch)
				}
				if t.useANSI {
					builder.WriteString(resetANSI)
				}
				t.lines[y] = builder.String()
			}
		}()
	}
	for y := 0; y < rows; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()
}

// cell runs the fragment stage once at the centre of the glyph and picks
// the nearest 256-colour code.
func (t *Terminal) cell(c engine.DrawCall, i, row, rows int) (rune, int) {
	glyphs := c.Atlas.Glyphs
	g := int(c.Grid.GlyphIndex[i])
	g = min(max(g, 0), len(glyphs)-1)
	ch := glyphs[g]
	if !t.useANSI {
		return ch, 0
	}
	u, v := shader.AtlasUV(float64(g), c.Uniforms.CharsPerRow, 0.5, 0.5)
	fragY := float64(rows-1-row) + 0.5
	col, _ := shader.Fragment(1, u, v, fragY, float64(c.Grid.Brightness[i]), c.Uniforms)
	return ch, rgbToANSI(col[0], col[1], col[2])
}

func (t *Terminal) buildStatus(c engine.DrawCall) string {
	builder := &t.statusBuilder
	builder.Reset()
	builder.Grow(128)
	builder.WriteString(strings.ToUpper(c.Config.ColorMode.String()))
	builder.WriteString(" | ")
	builder.WriteString(strconv.Itoa(c.Grid.Cols()))
	builder.WriteString("x")
	builder.WriteString(strconv.Itoa(c.Grid.Rows()))
	builder.WriteString(" glyphs=")
	builder.WriteString(strconv.Itoa(len(c.Atlas.Glyphs)))
	if c.Config.PersonOnly {
		builder.WriteString(" person")
	}
	if !c.Config.AudioReactivity {
		builder.WriteString(" audio=off")
	}
	builder.WriteString(" | vol ")
	appendFloat(builder, c.Shaped.Vol, 2)
	builder.WriteString(" bass ")
	appendFloat(builder, c.Shaped.Bass, 2)
	builder.WriteString(" treble ")
	appendFloat(builder, c.Shaped.Treble, 2)
	builder.WriteString(" fps ")
	appendFloat(builder, t.fps, 1)
	if t.status != nil {
		if extra := t.status(); extra != "" {
			builder.WriteString(" | ")
			builder.WriteString(extra)
		}
	}
	return builder.String()
}

// Snapshot redraws the last call through the software pipeline.
func (t *Terminal) Snapshot() (image.Image, error) {
	if !t.hasLast {
		return nil, engine.ErrNoFrame
	}
	c := t.last
	pipe := shader.NewPipeline(c.Grid.Cols()*snapshotCellW, c.Grid.Rows()*snapshotCellH)
	return copyRGBA(pipe.Draw(c.Atlas, c.Grid, c.Uniforms)), nil
}

// Close restores the terminal.
func (t *Terminal) Close() error {
	if !t.started {
		return nil
	}
	t.started = false
	showCursor(t.out)
	exitAltScreen(t.out)
	return t.out.Flush()
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	return text + strings.Repeat(" ", width-len(text))
}

func colorCode(index int) string {
	index = min(max(index, 0), len(precomputedANSI)-1)
	return precomputedANSI[index]
}

func rgbToANSI(r, g, b float64) int {
	r, g, b = clamp01(r), clamp01(g), clamp01(b)

	// grayscale ramp
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))
	return 16 + 36*ri + 6*gi + bi
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	builder.Write(strconv.AppendFloat(buf[:0], value, 'f', precision, 64))
}

func clearScreen(w io.Writer) {
	io.WriteString(w, "\x1b[2J")
	moveCursorHome(w)
}

func moveCursorHome(w io.Writer) { io.WriteString(w, "\x1b[H") }
func hideCursor(w io.Writer)     { io.WriteString(w, "\x1b[?25l") }
func showCursor(w io.Writer)     { io.WriteString(w, "\x1b[?25h") }
func enterAltScreen(w io.Writer) { io.WriteString(w, "\x1b[?1049h") }
func exitAltScreen(w io.Writer)  { io.WriteString(w, "\x1b[?1049l\x1b[0m") }
