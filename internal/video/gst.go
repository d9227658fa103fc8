//go:build gst

package video

import (
	"context"
	"fmt"
	"image"
	"log"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstSource pulls RGBA frames from a GStreamer pipeline into a Latest
// mailbox. The appsink keeps one buffer and drops the rest.
type GstSource struct {
	Latest

	pipeline *gst.Pipeline
	width    int
	height   int
	log      *log.Logger
	cancel   context.CancelFunc
}

// GstConfig selects the capture input.
type GstConfig struct {
	// Device is a v4l2 device such as /dev/video0. URI wins if set.
	Device string
	// URI is any location uridecodebin understands (file://, rtsp://...).
	URI    string
	Width  int
	Height int
	FPS    int
	Log    *log.Logger
}

// OpenGst builds and starts the pipeline.
func OpenGst(ctx context.Context, cfg GstConfig) (*GstSource, error) {
	gst.Init(nil)
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Height <= 0 {
		cfg.Height = 240
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	var src *gst.Element
	if cfg.URI != "" {
		src, err = gst.NewElement("uridecodebin")
		if err == nil {
			src.SetProperty("uri", cfg.URI)
		}
	} else {
		src, err = gst.NewElement("v4l2src")
		if err == nil && cfg.Device != "" {
			src.SetProperty("device", cfg.Device)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(caps))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("add elements: %w", err)
	}
	if err := gst.ElementLinkMany(convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}
	if cfg.URI != "" {
		// uridecodebin exposes its video pad only once it knows the stream.
		src.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
			caps := pad.GetCurrentCaps()
			if caps == nil || !strings.HasPrefix(caps.String(), "video/") {
				return
			}
			if ret := pad.Link(convert.GetStaticPad("sink")); ret != gst.PadLinkOK {
				cfg.logf("gst: link decoded pad: %v", ret)
			}
		})
	} else if err := src.Link(convert); err != nil {
		return nil, fmt.Errorf("link source: %w", err)
	}

	s := &GstSource{pipeline: pipeline, width: cfg.Width, height: cfg.Height, log: cfg.Log}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.watchBus(ctx)
	return s, nil
}

func (s *GstSource) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < s.width*s.height*4 {
		buffer.Unmap()
		return gst.FlowOK
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	copy(img.Pix, data)
	buffer.Unmap()
	s.Store(img)
	return gst.FlowOK
}

func (s *GstSource) watchBus(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.logf("gst: end of stream")
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logf("gst: %s (%s)", gerr.Error(), gerr.DebugString())
			return
		}
	}
}

// Close stops the pipeline.
func (s *GstSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.pipeline.SetState(gst.StateNull)
}

func (s *GstSource) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (c GstConfig) logf(format string, args ...any) {
	if c.Log != nil {
		c.Log.Printf(format, args...)
	}
}
