package audio

import (
	"math"
	"math/rand"

	"github.com/guidoenr/glyphcast/internal/analyzer"
)

// Synth produces plausible feature curves without any audio device, for
// -no-audio runs and demos.
type Synth struct {
	rng       *rand.Rand
	phaseBass float64
	phaseMid  float64
	phaseHigh float64
}

// NewSynth seeds the generator.
func NewSynth(seed int64) *Synth {
	return &Synth{rng: rand.New(rand.NewSource(seed))}
}

// Next advances the oscillators by delta seconds.
func (s *Synth) Next(delta float64) analyzer.Features {
	s.phaseBass += delta * 0.7
	s.phaseMid += delta * 1.2
	s.phaseHigh += delta * 2.1

	bass := clamp01(0.5 + 0.5*math.Sin(s.phaseBass) + s.rng.Float64()*0.1)
	mid := clamp01(0.4 + 0.4*math.Sin(s.phaseMid+0.5) + s.rng.Float64()*0.1)
	treble := clamp01(0.3 + 0.3*math.Sin(s.phaseHigh+1.0) + s.rng.Float64()*0.1)

	// occasional kick
	if s.rng.Float64() < 0.02 {
		bass = 1
	}

	return analyzer.Features{
		RMS:    (bass + mid + treble) / 3,
		Bass:   bass,
		Mid:    mid,
		Treble: treble,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
