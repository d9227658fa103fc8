package segment

import (
	"context"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the segmentation cadence, independent of the render
// tick.
const DefaultInterval = 60 * time.Millisecond

// Segmenter estimates a foreground mask for one frame.
type Segmenter interface {
	Segment(ctx context.Context, frame image.Image) (*Mask, error)
	Close() error
}

// FrameFunc returns the current frame, or false if none is ready.
type FrameFunc func() (image.Image, bool)

// WorkerConfig wires a Worker.
type WorkerConfig struct {
	Segmenter Segmenter
	Slot      *Slot
	Interval  time.Duration
	// Active gates each cycle; segmentation only runs while it returns
	// true. Nil means always.
	Active func() bool
	Log    *log.Logger
}

// Worker feeds frames to a Segmenter on a fixed timer and publishes
// results into a Slot. At most one frame is in flight; frames offered
// while busy are dropped.
type Worker struct {
	cfg WorkerConfig

	busy      atomic.Bool
	wg        sync.WaitGroup
	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker validates cfg and fills defaults.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Slot == nil {
		cfg.Slot = &Slot{}
	}
	return &Worker{cfg: cfg}
}

// Slot returns the slot results are published into.
func (w *Worker) Slot() *Slot {
	return w.cfg.Slot
}

// SendFrame starts segmenting frame in the background and returns
// immediately. It reports false when the previous frame is still being
// processed and this one was dropped.
func (w *Worker) SendFrame(ctx context.Context, frame image.Image) bool {
	if frame == nil || !w.busy.CompareAndSwap(false, true) {
		w.dropped.Add(1)
		return false
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.busy.Store(false)

		m, err := w.cfg.Segmenter.Segment(ctx, frame)
		if err != nil {
			w.failed.Add(1)
			if ctx.Err() == nil && w.cfg.Log != nil {
				w.cfg.Log.Printf("segment: %v", err)
			}
			return
		}
		w.processed.Add(1)
		w.cfg.Slot.Publish(m)
	}()
	return true
}

// Run offers a frame every interval until ctx is done, then waits for
// the frame in flight.
func (w *Worker) Run(ctx context.Context, frames FrameFunc) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.cfg.Active != nil && !w.cfg.Active() {
				continue
			}
			if frame, ok := frames(); ok {
				w.SendFrame(ctx, frame)
			}
		}
	}
}

// Stats reports processed, dropped and failed frame counts.
func (w *Worker) Stats() (processed, dropped, failed uint64) {
	return w.processed.Load(), w.dropped.Load(), w.failed.Load()
}
