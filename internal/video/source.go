// Package video provides frame sources and the sampler that reduces a
// frame to one RGBA value per grid cell.
package video

import (
	"errors"
	"image"
	"sync/atomic"
)

// ErrUnsupported is returned for sources this build cannot open.
var ErrUnsupported = errors.New("video source not supported in this build")

// Source is anything that can hand out the current frame. Frame may be
// called from several goroutines; returned images must not be modified
// by the caller or the source afterwards.
type Source interface {
	Ready() bool
	Frame() image.Image
}

// Closer is implemented by sources holding OS resources.
type Closer interface {
	Close() error
}

// Latest is a single-frame mailbox for push sources: the producer
// replaces the frame, readers always see the newest complete one.
type Latest struct {
	frame atomic.Pointer[image.RGBA]
	count atomic.Uint64
}

// Store publishes img. The producer must not touch img afterwards.
func (l *Latest) Store(img *image.RGBA) {
	if img == nil {
		return
	}
	l.frame.Store(img)
	l.count.Add(1)
}

// Ready reports whether a frame has been stored.
func (l *Latest) Ready() bool {
	return l.frame.Load() != nil
}

// Frame returns the newest frame or nil.
func (l *Latest) Frame() image.Image {
	if f := l.frame.Load(); f != nil {
		return f
	}
	return nil
}

// Frames counts stored frames.
func (l *Latest) Frames() uint64 {
	return l.count.Load()
}
