//go:build !gst

package video

import (
	"context"
	"fmt"
	"log"
)

// GstSource is unavailable without the gst build tag.
type GstSource struct {
	Latest
}

// GstConfig selects the capture input.
type GstConfig struct {
	Device string
	URI    string
	Width  int
	Height int
	FPS    int
	Log    *log.Logger
}

// OpenGst reports that camera capture needs the gst build tag.
func OpenGst(ctx context.Context, cfg GstConfig) (*GstSource, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags gst for camera capture", ErrUnsupported)
}

// Close is a no-op.
func (s *GstSource) Close() error { return nil }
