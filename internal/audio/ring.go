package audio

import "sync"

// ring keeps the most recent mono samples written by an audio callback.
type ring struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &ring{buffer: make([]float32, size)}
}

// Samples returns the ring contents, oldest first.
func (r *ring) Samples() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make([]float32, len(r.buffer))
	if r.index == 0 {
		copy(cp, r.buffer)
		return cp
	}
	copy(cp, r.buffer[r.index:])
	copy(cp[len(r.buffer)-r.index:], r.buffer[:r.index])
	return cp
}

func (r *ring) write(in []float32) {
	if len(in) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(in) >= len(r.buffer) {
		copy(r.buffer, in[len(in)-len(r.buffer):])
		r.index = 0
		return
	}

	if r.index+len(in) <= len(r.buffer) {
		copy(r.buffer[r.index:], in)
		r.index += len(in)
		if r.index == len(r.buffer) {
			r.index = 0
		}
		return
	}

	remaining := len(r.buffer) - r.index
	copy(r.buffer[r.index:], in[:remaining])
	copy(r.buffer, in[remaining:])
	r.index = len(in) - remaining
}

func (r *ring) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buffer)
	r.index = 0
}

// downmix averages interleaved channels into dst, growing it as needed.
func downmix(dst, in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		sum := float32(0)
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		dst[i] = sum / float32(channels)
	}
	return dst
}
