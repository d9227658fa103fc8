// Package app wires the configuration store, audio service, frame source,
// segmentation worker, render loop and control surfaces into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/audio"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/control"
	"github.com/guidoenr/glyphcast/internal/engine"
	"github.com/guidoenr/glyphcast/internal/render"
	"github.com/guidoenr/glyphcast/internal/segment"
	"github.com/guidoenr/glyphcast/internal/video"
	"github.com/guidoenr/glyphcast/internal/web"
)

// VideoConfig picks the frame source. The first non-empty field wins in
// the order Image, GstURI, GstDevice, Pattern.
type VideoConfig struct {
	Pattern   string
	Image     string
	GstDevice string
	GstURI    string
	Width     int
	Height    int
}

// Config configures the application runtime.
type Config struct {
	Backend string
	// Width and Height size the window or offscreen framebuffer.
	Width     int
	Height    int
	FontPath  string
	AtlasSize int
	TargetFPS float64

	UseANSI       bool
	ShowStatusBar bool
	// FollowTerminal keeps the grid resolution equal to the terminal size.
	FollowTerminal bool

	DisableAudio   bool
	SecondaryAudio bool
	Audio          audio.ServiceConfig

	Video VideoConfig
	// Segmenter is "diff", "none", or a worker command line.
	Segmenter string

	WebAddr    string
	MQTTBroker string
	MQTTPrefix string

	ProfilePath     string
	SnapshotDir     string
	DisableKeyboard bool
	Log             *log.Logger
}

// App ties together audio, video, segmentation and rendering.
type App struct {
	cfg   Config
	log   *log.Logger
	store *config.Store

	atlas     *atlas.Builder
	backend   engine.Backend
	audio     *audio.Service
	source    video.Source
	segmenter segment.Segmenter
	worker    *segment.Worker
	loop      *engine.Loop
	prof      *profiler
	web       *web.Server
	mqtt      *control.MQTT

	secondary   bool
	ran         bool
	inputEvents chan keyBinding
	termSize    func() (int, int, error)
	closeOnce   sync.Once
}

// New builds every component. Nothing runs until Run.
func New(ctx context.Context, store *config.Store, cfg Config) (*App, error) {
	if store == nil {
		return nil, errors.New("app: config store is required")
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 30
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = "."
	}
	if cfg.Backend == "" {
		cfg.Backend = render.BackendTerminal
	}

	a := &App{
		cfg:       cfg,
		log:       cfg.Log,
		store:     store,
		secondary: cfg.SecondaryAudio,
		termSize: func() (int, int, error) {
			return render.TerminalSize(int(os.Stdout.Fd()))
		},
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	builder, err := atlas.NewBuilder(atlas.Options{Size: cfg.AtlasSize, FontPath: cfg.FontPath})
	if err != nil {
		return fmt.Errorf("atlas: %w", err)
	}
	a.atlas = builder

	if cfg.Backend == render.BackendTerminal && cfg.FollowTerminal {
		a.fitTerminal()
	}

	backend, err := render.New(render.Options{
		Backend:    cfg.Backend,
		Width:      cfg.Width,
		Height:     cfg.Height,
		UseANSI:    cfg.UseANSI,
		StatusLine: cfg.ShowStatusBar,
		Status:     a.statusText,
		Log:        a.log,
	})
	if err != nil {
		return fmt.Errorf("backend %s: %w", cfg.Backend, err)
	}
	a.backend = backend
	if r, ok := backend.(render.AtlasReleaser); ok {
		builder.OnRelease(r.ReleaseAtlas)
	}

	audioCfg := cfg.Audio
	audioCfg.Synthetic = audioCfg.Synthetic || cfg.DisableAudio
	audioCfg.Log = a.log
	a.audio = audio.NewService(audioCfg)

	a.prof = newProfiler(cfg.ProfilePath, a.log)
	var tracer engine.Tracer
	if a.prof != nil {
		tracer = a.prof
	}

	var masks *segment.Slot
	seg, err := a.openSegmenter(ctx)
	if err != nil {
		return err
	}
	if seg != nil {
		a.segmenter = seg
		a.worker = segment.NewWorker(segment.WorkerConfig{
			Segmenter: seg,
			Active:    func() bool { return a.store.Load().PersonOnly },
			Log:       a.log,
		})
		masks = a.worker.Slot()
	}

	loop, err := engine.New(engine.Config{
		Store:   a.store,
		Atlas:   builder,
		Backend: backend,
		Audio:   a.audio,
		Masks:   masks,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		Tracer:  tracer,
		Log:     a.log,
	})
	if err != nil {
		return err
	}
	a.loop = loop

	src, err := openSource(ctx, cfg.Video, a.log)
	if err != nil {
		return fmt.Errorf("video: %w", err)
	}
	a.source = src
	loop.SetSource(src)

	if cfg.WebAddr != "" {
		a.web = web.NewServer(web.Options{Store: a.store, Engine: loop, Log: a.log})
	}
	if cfg.MQTTBroker != "" {
		a.mqtt = control.NewMQTT(control.Options{
			Broker:         cfg.MQTTBroker,
			Prefix:         cfg.MQTTPrefix,
			StatusInterval: time.Second,
			Store:          a.store,
			Status:         loop.Status,
			Log:            a.log,
		})
	}
	return nil
}

func (a *App) openSegmenter(ctx context.Context) (segment.Segmenter, error) {
	cmdline := strings.TrimSpace(a.cfg.Segmenter)
	switch strings.ToLower(cmdline) {
	case "none", "off":
		return nil, nil
	case "", "diff":
		return segment.NewDiffSegmenter(160, 120), nil
	}
	seg, err := segment.StartProcess(ctx, segment.ProcessConfig{
		Command: strings.Fields(cmdline),
		Width:   256,
		Height:  192,
		Timeout: 500 * time.Millisecond,
		Log:     a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}
	return seg, nil
}

// openSource opens the frame source cfg selects.
func openSource(ctx context.Context, cfg VideoConfig, logger *log.Logger) (video.Source, error) {
	switch {
	case cfg.Image != "":
		return video.OpenImage(cfg.Image)
	case cfg.GstURI != "" || cfg.GstDevice != "":
		return video.OpenGst(ctx, video.GstConfig{
			Device: cfg.GstDevice,
			URI:    cfg.GstURI,
			Width:  cfg.Width,
			Height: cfg.Height,
			Log:    logger,
		})
	}
	name := cfg.Pattern
	if name == "" {
		name = "plasma"
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 320, 240
	}
	return video.NewPatternSource(strings.ToLower(name), w, h)
}

// Loop exposes the render loop.
func (a *App) Loop() *engine.Loop { return a.loop }

// Run starts audio and the background workers, then drives the render
// loop on the calling goroutine until ctx is cancelled, the user quits or
// the window closes.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.ran = true
	a.startAudio(a.secondary)

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	defer wg.Wait()
	defer cancel()

	if a.worker != nil {
		goRun(func() { a.worker.Run(ctx, a.currentFrame) })
	}
	if a.web != nil {
		goRun(func() {
			if err := a.web.Start(ctx, a.cfg.WebAddr); err != nil {
				a.log.Printf("[web] %v", err)
			}
		})
	}
	if a.mqtt != nil {
		goRun(func() {
			if err := a.mqtt.Connect(ctx); err != nil {
				a.log.Printf("[mqtt] %v", err)
				return
			}
			a.mqtt.Start(ctx)
		})
	}
	if a.cfg.Backend == render.BackendTerminal && a.cfg.FollowTerminal {
		goRun(func() { a.followTerminal(ctx) })
	}
	if !a.cfg.DisableKeyboard {
		a.startInputListener(ctx)
		goRun(func() { a.handleInput(ctx, cancel) })
	}

	err := a.loop.Run(ctx, a.cfg.TargetFPS)
	if errors.Is(err, render.ErrRendererQuit) {
		return nil
	}
	return err
}

func (a *App) startAudio(secondary bool) {
	if err := a.audio.Start(secondary); err != nil {
		switch {
		case errors.Is(err, audio.ErrPermission):
			a.log.Printf("audio permission denied, running without audio: %v", err)
		case errors.Is(err, audio.ErrUnsupported):
			a.log.Printf("audio source unsupported, running without audio: %v", err)
		default:
			a.log.Printf("audio unavailable: %v", err)
		}
		return
	}
	a.secondary = secondary
}

func (a *App) currentFrame() (image.Image, bool) {
	src := a.loop.Source()
	if src == nil || !src.Ready() {
		return nil, false
	}
	frame := src.Frame()
	return frame, frame != nil
}

func (a *App) statusText() string {
	label := a.audio.Label()
	if label == "" {
		label = "off"
	}
	return "audio=" + label
}

// fitTerminal sizes the grid to the terminal, leaving a row for the
// status bar.
func (a *App) fitTerminal() {
	w, h, err := a.termSize()
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	rows := h
	if a.cfg.ShowStatusBar && rows > 1 {
		rows--
	}
	rows = min(rows, config.MaxResolution)
	cols := min(w, config.MaxResolution)
	cur := a.store.Load()
	if cur.ResolutionWidth == cols && cur.ResolutionHeight == rows {
		return
	}
	if _, err := a.store.Update(func(c *config.Config) {
		c.ResolutionWidth = cols
		c.ResolutionHeight = rows
	}); err != nil {
		a.log.Printf("terminal resize: %v", err)
	}
}

func (a *App) followTerminal(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.fitTerminal()
		}
	}
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Printf("keyboard input disabled: %v", err)
		return
	}

	events := make(chan keyBinding, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			b := lookupKey(char, key)
			if b.event == inputEventNone {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case events <- b:
			}
			if b.event == inputEventQuit {
				return
			}
		}
	}()
}

func (a *App) handleInput(ctx context.Context, quit context.CancelFunc) {
	if a.inputEvents == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-a.inputEvents:
			if !ok {
				return
			}
			if a.dispatch(ctx, b) {
				quit()
				return
			}
		}
	}
}

// dispatch handles one binding and reports whether to quit.
func (a *App) dispatch(ctx context.Context, b keyBinding) bool {
	switch b.event {
	case inputEventConfig:
		if _, err := a.store.Update(b.apply); err != nil {
			a.log.Printf("%s: %v", b.label, err)
		}
	case inputEventAudioSource:
		a.startAudio(!a.secondary)
	case inputEventSnapshot:
		path, err := a.SaveSnapshot(ctx)
		if err != nil {
			a.log.Printf("snapshot: %v", err)
		} else {
			a.log.Printf("snapshot saved to %s", path)
		}
	case inputEventQuit:
		return true
	}
	return false
}

// SaveSnapshot writes the last frame as glyphcast-<time>.png.
func (a *App) SaveSnapshot(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	img, err := a.loop.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("glyphcast-%s.png", time.Now().Format("20060102-150405.000"))
	path := filepath.Join(a.cfg.SnapshotDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, f.Close()
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.audio != nil {
			a.audio.Stop()
		}
		if a.segmenter != nil {
			errs = append(errs, a.segmenter.Close())
		}
		if c, ok := a.source.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if !a.ran && a.backend != nil {
			// Loop.Run closes the backend itself.
			errs = append(errs, a.backend.Close())
		}
		if a.prof != nil {
			errs = append(errs, a.prof.Close())
		}
	})
	return errors.Join(errs...)
}
