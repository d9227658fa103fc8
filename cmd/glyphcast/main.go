package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guidoenr/glyphcast/internal/app"
	"github.com/guidoenr/glyphcast/internal/audio"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/render"
	"github.com/guidoenr/glyphcast/internal/video"
)

func main() {
	var (
		backend    = flag.String("backend", render.BackendTerminal, "Renderer ("+strings.Join(render.Names(), "|")+")")
		targetFPS  = flag.Float64("fps", 30, "Target frames per second")
		cols       = flag.Int("width", 0, "Grid columns (0 = config or terminal width)")
		rows       = flag.Int("height", 0, "Grid rows (0 = config, terminal height, or aspect fit)")
		winWidth   = flag.Int("window-width", 960, "Window or framebuffer width in pixels")
		winHeight  = flag.Int("window-height", 720, "Window or framebuffer height in pixels")
		fontPath   = flag.String("font", "", "TrueType font for the glyph atlas (default: Go Mono Bold)")
		atlasSize  = flag.Int("atlas-size", 0, "Glyph atlas texture size in pixels")
		configPath = flag.String("config", "", "YAML or JSON config file")
		glyphs     = flag.String("glyphs", "", "Glyph set name ("+strings.Join(config.GlyphSetNames(), "|")+") or literal ramp")
		colorMode  = flag.String("color", "", "Colour mode ("+strings.Join(config.ColorModeNames(), "|")+")")
		personOnly = flag.Bool("person-only", false, "Only render the segmented foreground")
		noColor    = flag.Bool("no-color", false, "Disable ANSI color output")
		showStatus = flag.Bool("status", true, "Display status bar")

		noAudio    = flag.Bool("no-audio", false, "Run with synthetic audio (for testing)")
		deviceName = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		audioFile  = flag.String("audio-file", "", "Audio file for the secondary source (wav|mp3|flac)")
		pickAudio  = flag.Bool("pick-audio", false, "Choose the secondary audio file with a dialog")
		secondary  = flag.Bool("secondary-audio", false, "Start on the secondary source (file, else loopback device)")
		bufferSize = flag.Int("buffer-size", 4096, "Audio ring buffer size in samples")
		noiseFloor = flag.Float64("noise-floor", 0.01, "Features below this level read as silence")
		listDevs   = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")

		pattern   = flag.String("pattern", "plasma", "Synthetic video pattern ("+strings.Join(video.PatternNames(), "|")+")")
		imagePath = flag.String("image", "", "Still or animated image to use as the video source")
		gstDevice = flag.String("camera", "", "v4l2 camera device, e.g. /dev/video0 (needs -tags gst)")
		gstURI    = flag.String("uri", "", "GStreamer URI video source (needs -tags gst)")
		segmenter = flag.String("segmenter", "diff", "Person segmentation: diff, none, or a worker command")

		webAddr    = flag.String("web", "", "Serve the control API on this address, e.g. :8080")
		mqttBroker = flag.String("mqtt", "", "MQTT broker for remote control, e.g. localhost:1883")
		mqttPrefix = flag.String("mqtt-prefix", "glyphcast", "MQTT topic prefix")
		profile    = flag.String("profile", "", "Append per-section timings to this CSV file")
		debug      = flag.Bool("debug", false, "Enable verbose logging")
	)

	flag.Parse()

	if *targetFPS <= 0 {
		log.Fatalf("fps must be positive (got %.2f)", *targetFPS)
	}
	if *bufferSize <= 0 {
		log.Fatalf("buffer-size must be positive (got %d)", *bufferSize)
	}

	logger := log.New(os.Stdout, "[glyphcast] ", log.LstdFlags)
	if !*debug {
		logger.SetOutput(os.Stderr)
		logger.SetFlags(0)
	}

	if *listDevs {
		listDevices(logger)
		return
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *glyphs != "" {
		cfg.GlyphSet = config.ResolveGlyphSet(*glyphs)
	}
	if *colorMode != "" {
		mode, err := config.ParseColorMode(*colorMode)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		cfg.ColorMode = mode
	}
	if set["person-only"] {
		cfg.PersonOnly = *personOnly
	}
	if *cols > 0 {
		cfg.ResolutionWidth = *cols
		if *rows <= 0 && *backend != render.BackendTerminal {
			cfg.ResolutionHeight = config.FitHeight(*cols, *winWidth, *winHeight)
		}
	}
	if *rows > 0 {
		cfg.ResolutionHeight = *rows
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	store, err := config.NewStore(cfg)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	file := *audioFile
	if *pickAudio {
		picked, err := audio.PickFile()
		if err != nil {
			logger.Printf("file dialog: %v", err)
		}
		if picked != "" {
			file = picked
			*secondary = true
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, store, app.Config{
		Backend:        *backend,
		Width:          *winWidth,
		Height:         *winHeight,
		FontPath:       *fontPath,
		AtlasSize:      *atlasSize,
		TargetFPS:      *targetFPS,
		UseANSI:        !*noColor,
		ShowStatusBar:  *showStatus,
		FollowTerminal: *cols <= 0 && *rows <= 0,
		DisableAudio:   *noAudio,
		SecondaryAudio: *secondary,
		Audio: audio.ServiceConfig{
			DeviceName: *deviceName,
			File:       file,
			Loop:       true,
			BufferSize: *bufferSize,
			NoiseFloor: *noiseFloor,
		},
		Video: app.VideoConfig{
			Pattern:   *pattern,
			Image:     *imagePath,
			GstDevice: *gstDevice,
			GstURI:    *gstURI,
		},
		Segmenter:   *segmenter,
		WebAddr:     *webAddr,
		MQTTBroker:  *mqttBroker,
		MQTTPrefix:  *mqttPrefix,
		ProfilePath: *profile,
		Log:         logger,
	})
	if err != nil {
		logger.Fatalf("failed to create app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		logger.Printf("runtime error: %v", err)
		return
	}
}

func listDevices(logger *log.Logger) {
	if err := audio.Initialize(); err != nil {
		logger.Fatalf("failed to initialize PortAudio: %v", err)
	}
	defer audio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		logger.Fatalf("list devices: %v", err)
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		if dev.MaxInput == 0 {
			continue
		}
		fmt.Printf("- %s\n", dev)
	}
	if dev, err := audio.AutoDetectDevice(false); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
	if dev, err := audio.AutoDetectDevice(true); err == nil && dev != nil {
		fmt.Printf("Auto-detected loopback: %s\n", dev.Name)
	}
}
