package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guidoenr/glyphcast/internal/analyzer"
	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/grid"
	"github.com/guidoenr/glyphcast/internal/segment"
	"github.com/guidoenr/glyphcast/internal/shader"
	"github.com/guidoenr/glyphcast/internal/video"
)

// ErrNoFrame is returned by Snapshot before anything has been drawn.
var ErrNoFrame = errors.New("no frame drawn yet")

// Audio-driven uniform gains.
const (
	bassScaleGain   = 0.08
	spectrumTimeAdv = 0.2
)

// Config wires a Loop to its collaborators. Store, Atlas and Backend are
// required.
type Config struct {
	Store   *config.Store
	Atlas   *atlas.Builder
	Backend Backend
	Audio   AudioPoller
	Masks   *segment.Slot
	Rand    *rand.Rand
	Tracer  Tracer
	Log     *log.Logger
}

type snapshotRequest struct {
	reply chan snapshotResult
}

type snapshotResult struct {
	img image.Image
	err error
}

// Loop owns the atlas, grid, smoother and backend. Only the goroutine
// calling Tick or Run touches them.
type Loop struct {
	store   *config.Store
	atlas   *atlas.Builder
	backend Backend
	audio   AudioPoller
	masks   *segment.Slot
	tracer  Tracer
	log     *log.Logger

	grid     *grid.Grid
	sampler  *video.Sampler
	mapper   *Mapper
	smoother analyzer.Smoother

	srcMu sync.Mutex
	src   video.Source

	start     time.Time
	lastTick  time.Time
	frames    uint64
	skipped   uint64
	lastErr   string
	snapshots chan snapshotRequest
	status    atomic.Pointer[Status]
}

// New validates the wiring. The loop starts Idle.
func New(cfg Config) (*Loop, error) {
	if cfg.Store == nil || cfg.Atlas == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("engine: store, atlas and backend are required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noopTracer{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	l := &Loop{
		store:     cfg.Store,
		atlas:     cfg.Atlas,
		backend:   cfg.Backend,
		audio:     cfg.Audio,
		masks:     cfg.Masks,
		tracer:    cfg.Tracer,
		log:       cfg.Log,
		grid:      grid.New(),
		sampler:   video.NewSampler(),
		mapper:    NewMapper(cfg.Rand),
		snapshots: make(chan snapshotRequest),
	}
	l.status.Store(&Status{State: Idle.String()})
	return l, nil
}

// SetSource attaches a frame source; nil returns the loop to Idle.
func (l *Loop) SetSource(src video.Source) {
	l.srcMu.Lock()
	defer l.srcMu.Unlock()
	l.src = src
}

// Source returns the attached frame source, if any.
func (l *Loop) Source() video.Source {
	l.srcMu.Lock()
	defer l.srcMu.Unlock()
	return l.src
}

// State reports Active once a source is attached.
func (l *Loop) State() State {
	if l.Source() == nil {
		return Idle
	}
	return Active
}

// Status returns the summary of the last tick.
func (l *Loop) Status() Status {
	return *l.status.Load()
}

// Grid exposes the instance set for inspection.
func (l *Loop) Grid() *grid.Grid {
	return l.grid
}

// Tick runs one iteration at time now. It reports whether a frame was
// drawn. Configuration errors fail before any atlas or grid work; an
// unready frame is a skipped tick, not an error.
func (l *Loop) Tick(now time.Time) (bool, error) {
	if l.start.IsZero() {
		l.start = now
	}
	l.tracer.BeginFrame()
	defer l.tracer.EndFrame()

	cfg := l.store.Load()
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	a, _, err := l.atlas.Ensure(cfg.GlyphSet)
	if err != nil {
		return false, fmt.Errorf("build atlas: %w", err)
	}
	resized, err := l.grid.Resize(cfg.ResolutionWidth, cfg.ResolutionHeight)
	if err != nil {
		return false, err
	}

	var raw analyzer.Features
	if l.audio != nil {
		raw = l.audio.Poll()
	}
	smoothed := l.smoother.Update(raw, cfg.Smoothing)
	shaped := analyzer.Shape(smoothed, cfg.Sensitivity)
	l.tracer.Mark("audio")

	src := l.Source()
	if src == nil || !src.Ready() {
		l.skipped++
		l.publish(now, cfg, smoothed, shaped)
		return false, nil
	}

	var mask *segment.Mask
	if l.masks != nil {
		mask = l.masks.Load()
	}
	px, ok := l.sampler.Sample(src, l.grid.Cols(), l.grid.Rows(), mask, cfg.PersonOnly)
	if !ok {
		l.skipped++
		l.publish(now, cfg, smoothed, shaped)
		return false, nil
	}
	l.tracer.Mark("sample")

	l.mapper.Frame(px, ParamsFrom(cfg), shaped, l.grid.Brightness, l.grid.GlyphIndex)
	l.grid.Commit()
	l.tracer.Mark("map")

	u, err := l.uniforms(cfg, a, shaped, now)
	if err != nil {
		return false, err
	}
	call := DrawCall{
		Atlas:    a,
		Grid:     l.grid,
		Uniforms: u,
		Dirty:    l.grid.TakeDirty(),
		Resized:  resized,
		Config:   cfg,
		Features: smoothed,
		Shaped:   shaped,
	}
	if err := l.backend.Draw(call); err != nil {
		return false, err
	}
	l.tracer.Mark("draw")

	l.frames++
	l.publish(now, cfg, smoothed, shaped)
	return true, nil
}

func (l *Loop) uniforms(cfg config.Config, a *atlas.Atlas, s analyzer.Shaped, now time.Time) (shader.Uniforms, error) {
	u, err := shader.NewUniforms(cfg.ColorMode, cfg.Scanlines, a.CharsPerRow)
	if err != nil {
		return u, err
	}
	u.Time = now.Sub(l.start).Seconds()
	u.Treble = s.Treble
	if cfg.AudioReactivity {
		u.Scale = 1 + s.Bass*bassScaleGain
		if u.Spectrum {
			u.Time += s.Vol * spectrumTimeAdv
		}
	}
	return u, nil
}

func (l *Loop) publish(now time.Time, cfg config.Config, f analyzer.Features, s analyzer.Shaped) {
	fps := 0.0
	if !l.lastTick.IsZero() {
		if dt := now.Sub(l.lastTick).Seconds(); dt > 0 {
			fps = 1 / dt
		}
	}
	l.lastTick = now
	l.status.Store(&Status{
		State:    l.State().String(),
		Frames:   l.frames,
		Skipped:  l.skipped,
		Cols:     cfg.ResolutionWidth,
		Rows:     cfg.ResolutionHeight,
		Glyphs:   cfg.GlyphCount(),
		FPS:      fps,
		Features: f,
		Shaped:   s,
		Error:    l.lastErr,
	})
}

// Run ticks at fps until ctx is cancelled or the backend fails. The tick
// in flight when ctx is cancelled completes. Configuration errors are
// logged once per distinct message and the loop keeps going.
func (l *Loop) Run(ctx context.Context, fps float64) error {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	defer l.backend.Close()
	defer l.atlas.Release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-l.snapshots:
			img, err := l.backend.Snapshot()
			req.reply <- snapshotResult{img: img, err: err}
		case now := <-ticker.C:
			if _, err := l.Tick(now); err != nil {
				if isConfigError(err) {
					l.noteError(err)
					continue
				}
				return err
			}
			l.lastErr = ""
		}
	}
}

func (l *Loop) noteError(err error) {
	msg := err.Error()
	if msg != l.lastErr {
		l.log.Printf("tick skipped: %v", err)
		l.lastErr = msg
		st := l.Status()
		st.Error = msg
		l.status.Store(&st)
	}
}

func isConfigError(err error) bool {
	return errors.Is(err, config.ErrEmptyGlyphSet) ||
		errors.Is(err, config.ErrInvalidResolution) ||
		errors.Is(err, config.ErrInvalidParameter)
}

// Snapshot asks the running loop for the last drawn frame. It is served
// between ticks, so it never races a draw.
func (l *Loop) Snapshot(ctx context.Context) (image.Image, error) {
	req := snapshotRequest{reply: make(chan snapshotResult, 1)}
	select {
	case l.snapshots <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
