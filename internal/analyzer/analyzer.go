package analyzer

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Analyzer turns a window of mono samples into Features. It mimics a
// byte-frequency analyser: windowed FFT, per-bin time smoothing, a
// decibel range mapped onto [0,1], then three band averages.
type Analyzer struct {
	fftSize    int
	timeSmooth float64
	minDB      float64
	maxDB      float64

	buffer   []complex128
	window   []float64
	smoothed []float64
	levels   []float64
}

// Config controls Analyzer behaviour.
type Config struct {
	FFTSize    int
	TimeSmooth float64
	MinDB      float64
	MaxDB      float64
}

// Band split points, as fractions of the bin count.
const (
	bassSplit = 0.15
	midSplit  = 0.6
)

// New creates an Analyzer; zero fields take the analyser defaults
// (512-point FFT, 0.4 smoothing, -100..-30 dB).
func New(cfg Config) *Analyzer {
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = 512
	}
	cfg.FFTSize = nextPow2(cfg.FFTSize)
	if cfg.FFTSize < 32 {
		cfg.FFTSize = 32
	}
	if cfg.TimeSmooth < 0 || cfg.TimeSmooth >= 1 {
		cfg.TimeSmooth = 0.4
	}
	if cfg.MinDB == 0 && cfg.MaxDB == 0 {
		cfg.MinDB, cfg.MaxDB = -100, -30
	}
	if cfg.MaxDB <= cfg.MinDB {
		cfg.MaxDB = cfg.MinDB + 70
	}
	a := &Analyzer{
		fftSize:    cfg.FFTSize,
		timeSmooth: cfg.TimeSmooth,
		minDB:      cfg.MinDB,
		maxDB:      cfg.MaxDB,
	}
	a.ensureWorkspace(cfg.FFTSize)
	return a
}

// FFTSize returns the transform length.
func (a *Analyzer) FFTSize() int {
	return a.fftSize
}

// Bins returns the number of frequency bins (FFTSize/2).
func (a *Analyzer) Bins() int {
	return a.fftSize / 2
}

// Analyze returns features for the newest FFTSize samples (oldest first).
func (a *Analyzer) Analyze(samples []float32) Features {
	if len(samples) == 0 {
		return Features{}
	}
	size := a.fftSize
	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}
	pad := size - len(samples)
	for i := 0; i < size; i++ {
		if i < pad {
			a.buffer[i] = 0
			continue
		}
		a.buffer[i] = complex(float64(samples[i-pad])*a.window[i], 0)
	}

	spectrum := fft.FFT(a.buffer)

	bins := size / 2
	rangeDB := a.maxDB - a.minDB
	for k := 0; k < bins; k++ {
		mag := cmag(spectrum[k]) / float64(size)
		a.smoothed[k] = a.timeSmooth*a.smoothed[k] + (1-a.timeSmooth)*mag
		level := 0.0
		if a.smoothed[k] > 0 {
			db := 20 * math.Log10(a.smoothed[k])
			level = math.Floor(255*(db-a.minDB)/rangeDB) / 255
		}
		a.levels[k] = clampFloat(level, 0, 1)
	}
	return bandFeatures(a.levels)
}

// bandFeatures splits normalised bin levels into rms/bass/mid/treble.
func bandFeatures(levels []float64) Features {
	n := len(levels)
	if n == 0 {
		return Features{}
	}
	bassEnd := max(1, int(math.Floor(float64(n)*bassSplit)))
	midEnd := max(bassEnd+1, int(math.Floor(float64(n)*midSplit)))

	var sum, bassSum, midSum, trebleSum float64
	for i, v := range levels {
		sum += v
		switch {
		case i < bassEnd:
			bassSum += v
		case i < midEnd:
			midSum += v
		default:
			trebleSum += v
		}
	}

	f := Features{
		RMS:  math.Min(1, sum/float64(n)*2),
		Bass: math.Min(1, bassSum/float64(bassEnd)*1.5),
	}
	if midEnd > bassEnd {
		f.Mid = math.Min(1, midSum/float64(midEnd-bassEnd)*1.2)
	}
	if n > midEnd {
		f.Treble = math.Min(1, trebleSum/float64(n-midEnd)*2)
	}
	return f
}

func (a *Analyzer) ensureWorkspace(size int) {
	if len(a.buffer) != size {
		a.buffer = make([]complex128, size)
	}
	if len(a.window) != size {
		a.window = make([]float64, size)
		sizeF := float64(size)
		for i := range a.window {
			a.window[i] = blackman(float64(i), sizeF)
		}
	}
	if len(a.smoothed) != size/2 {
		a.smoothed = make([]float64, size/2)
		a.levels = make([]float64, size/2)
	}
}

func blackman(i, size float64) float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha
	x := 2 * math.Pi * i / size
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
