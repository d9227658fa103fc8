package analyzer

import "math"

// Features describes the spectral energy of the latest audio window.
// Every field is normalised to [0,1].
type Features struct {
	RMS    float64 `json:"rms"`
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
}

// ShapeExponent compresses gained features perceptually.
const ShapeExponent = 1.2

// Shaped holds the gain-shaped values the visual mapping consumes.
// Mid is carried through but nothing reads it yet.
type Shaped struct {
	Vol    float64 `json:"vol"`
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
}

// Shape applies (x*sensitivity)^1.2 to each feature.
func Shape(f Features, sensitivity float64) Shaped {
	return Shaped{
		Vol:    shape(f.RMS, sensitivity),
		Bass:   shape(f.Bass, sensitivity),
		Mid:    shape(f.Mid, sensitivity),
		Treble: shape(f.Treble, sensitivity),
	}
}

func shape(v, sensitivity float64) float64 {
	x := v * sensitivity
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	return math.Pow(x, ShapeExponent)
}

// Smoother keeps the exponential moving average of polled features.
// The zero value starts from silence.
type Smoother struct {
	state Features
}

// Update folds raw into the running average with retention s in [0,1):
// smoothed = smoothed*s + raw*(1-s).
func (sm *Smoother) Update(raw Features, s float64) Features {
	if s < 0 {
		s = 0
	}
	if s >= 1 {
		s = math.Nextafter(1, 0)
	}
	k := 1 - s
	sm.state.RMS = sm.state.RMS*s + raw.RMS*k
	sm.state.Bass = sm.state.Bass*s + raw.Bass*k
	sm.state.Mid = sm.state.Mid*s + raw.Mid*k
	sm.state.Treble = sm.state.Treble*s + raw.Treble*k
	return sm.state
}

// Value returns the current smoothed features.
func (sm *Smoother) Value() Features {
	return sm.state
}

// Reset returns the smoother to silence.
func (sm *Smoother) Reset() {
	sm.state = Features{}
}

// GateFeatures applies a simple noise floor so weak signals are ignored.
func GateFeatures(f Features, floor float64) Features {
	if floor <= 0 {
		return f
	}
	gate := func(v float64) float64 {
		if v <= floor {
			return 0
		}
		return clampFloat((v-floor)/(1.0-floor), 0, 1)
	}

	f.RMS = gate(f.RMS)
	f.Bass = gate(f.Bass)
	f.Mid = gate(f.Mid)
	f.Treble = gate(f.Treble)
	return f
}

func clampFloat(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
