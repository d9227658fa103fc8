package video

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"
)

type patternFunc func(x, y, t, freq float64) float64

var patternRegistry = map[string]patternFunc{
	"plasma":  patternPlasma,
	"waves":   patternWaves,
	"ripples": patternRipples,
	"nebula":  patternNebula,
	"noise":   patternNoise,
}

// PatternNames returns the available pattern identifiers.
func PatternNames() []string {
	names := make([]string, 0, len(patternRegistry))
	for name := range patternRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PatternSource synthesizes frames so the pipeline can run without a
// camera. A soft figure drifts across the field, which gives person-only
// mode something to isolate.
type PatternSource struct {
	Width     int
	Height    int
	Frequency float64
	Figure    bool

	mu      sync.Mutex
	fn      patternFunc
	name    string
	start   time.Time
	now     func() time.Time
	last    *image.RGBA
	lastAt  time.Duration
	minStep time.Duration
}

// NewPatternSource returns a source rendering the named pattern at w×h.
func NewPatternSource(name string, w, h int) (*PatternSource, error) {
	fn, ok := patternRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q (have %v)", name, PatternNames())
	}
	return &PatternSource{
		Width:     max(w, 1),
		Height:    max(h, 1),
		Frequency: 3,
		Figure:    true,
		fn:        fn,
		name:      name,
		start:     time.Now(),
		now:       time.Now,
		minStep:   10 * time.Millisecond,
		lastAt:    -1,
	}, nil
}

// Name returns the pattern identifier.
func (p *PatternSource) Name() string { return p.name }

// Ready is always true.
func (p *PatternSource) Ready() bool { return true }

// Frame renders the pattern at the current time. Calls closer together
// than 10ms share a frame.
func (p *PatternSource) Frame() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := p.now().Sub(p.start)
	if p.last != nil && p.lastAt >= 0 && elapsed-p.lastAt < p.minStep {
		return p.last
	}
	p.last = p.render(elapsed.Seconds())
	p.lastAt = elapsed
	return p.last
}

func (p *PatternSource) render(t float64) *image.RGBA {
	w, h := p.Width, p.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	aspect := float64(w) / float64(h)

	figX := math.Sin(t*0.4) * 0.5 * aspect
	figY := math.Sin(t*0.7) * 0.15

	for py := 0; py < h; py++ {
		y := (float64(py)/float64(h))*2 - 1
		for px := 0; px < w; px++ {
			x := ((float64(px)/float64(w))*2 - 1) * aspect
			v := p.fn(x, y, t, p.Frequency)
			bright := 0.15 + 0.35*(v+1)/2
			hue := frac(0.55 + v*0.15 + t*0.02)
			sat := 0.6

			if p.Figure {
				dx := (x - figX) / 0.35
				dy := (y - figY) / 0.75
				if d := dx*dx + dy*dy; d < 1 {
					k := smoothstep(clamp01((1 - d) * 3))
					bright = lerpFloat(bright, 0.95, k)
					sat = lerpFloat(sat, 0.2, k)
				}
			}

			r, g, b := hsvToRGB(hue, sat, bright)
			o := py*img.Stride + px*4
			img.Pix[o] = uint8(r*255 + 0.5)
			img.Pix[o+1] = uint8(g*255 + 0.5)
			img.Pix[o+2] = uint8(b*255 + 0.5)
			img.Pix[o+3] = 255
		}
	}
	return img
}

func patternPlasma(x, y, t, _ float64) float64 {
	v1 := math.Sin((x*3.4 + t*1.2) * 0.9)
	v2 := math.Sin((y*4.1 - t*0.7) * 1.1)
	v3 := math.Sin((x+y)*2.3 + t*1.7)
	return (v1 + v2 + v3) / 3.0
}

func patternWaves(x, y, t, freq float64) float64 {
	freq *= 0.6
	return math.Sin((x+t*0.8)*freq) * math.Cos((y-t*0.5)*freq*1.1)
}

func patternRipples(x, y, t, freq float64) float64 {
	r := math.Hypot(x, y)
	theta := math.Atan2(y, x)
	return math.Sin(r*freq*1.6 - t*2.2 + math.Sin(theta*3+t)*0.5)
}

func patternNebula(x, y, t, freq float64) float64 {
	base := patternPlasma(x*0.8, y*0.8, t, freq)
	swirl := math.Sin((x-y)*1.5 + t*0.9)
	noise := fractalNoise(x*1.2+t*0.1, y*1.2-t*0.15)
	return clampSigned(base*0.6 + swirl*0.2 + noise*0.6)
}

func patternNoise(x, y, t, freq float64) float64 {
	scale := math.Max(0.001, freq*0.8)
	return fractalNoise(x*scale+t*0.2, y*scale-t*0.18)
}

func fractalNoise(x, y float64) float64 {
	amp := 0.5
	freq := 1.0
	total := 0.0
	sumAmp := 0.0

	for i := 0; i < 4; i++ {
		total += valueNoise2(x*freq, y*freq) * amp
		sumAmp += amp
		amp *= 0.5
		freq *= 2.0
	}
	return (total/sumAmp)*2.0 - 1.0
}

func valueNoise2(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	sx := smoothstep(x - x0)
	sy := smoothstep(y - y0)

	ix0 := lerpFloat(hash2(x0, y0), hash2(x0+1, y0), sx)
	ix1 := lerpFloat(hash2(x0, y0+1), hash2(x0+1, y0+1), sx)
	return lerpFloat(ix0, ix1, sy)
}

func hash2(x, y float64) float64 {
	return frac(math.Sin(x*127.1+y*311.7) * 43758.5453123)
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = clamp01(h)
	s = clamp01(s)
	v = clamp01(v)
	if s == 0 {
		return v, v, v
	}

	hv := h * 6.0
	i := math.Floor(hv)
	f := hv - i
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func smoothstep(v float64) float64 {
	return v * v * (3 - 2*v)
}

func lerpFloat(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

func frac(v float64) float64 {
	return v - math.Floor(v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampSigned(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
