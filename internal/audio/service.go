package audio

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/guidoenr/glyphcast/internal/analyzer"
)

// Source is a running audio input the Service can poll.
type Source interface {
	Samples() []float32
	Label() string
	Close() error
}

// ServiceConfig selects the sources a Service may start.
type ServiceConfig struct {
	// DeviceName picks the primary input by substring; empty auto-detects.
	DeviceName string
	// File is the secondary source. Empty means a loopback device.
	File       string
	Loop       bool
	BufferSize int
	// Synthetic replaces every source with the Synth generator.
	Synthetic  bool
	NoiseFloor float64
	Analyzer   analyzer.Config
	Log        *log.Logger
}

// Service owns at most one audio source and turns its latest samples into
// features whenever the render loop asks. Poll never blocks on audio I/O.
type Service struct {
	cfg ServiceConfig
	log *log.Logger
	now func() time.Time

	mu       sync.Mutex
	source   Source
	synth    *Synth
	portRef  bool
	analyzer *analyzer.Analyzer
	last     time.Time
	label    string
}

// NewService prepares a stopped service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Service{
		cfg:      cfg,
		log:      cfg.Log,
		now:      time.Now,
		analyzer: analyzer.New(cfg.Analyzer),
	}
}

// Start stops any running source, then opens the microphone, or the
// secondary source when useSecondary is set. Failures are *SourceError
// where the cause is known.
func (s *Service) Start(useSecondary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	if s.cfg.Synthetic {
		s.synth = NewSynth(s.now().UnixNano())
		s.last = s.now()
		s.label = "synthetic"
		s.log.Println("audio disabled, using synthetic generator")
		return nil
	}

	if useSecondary && s.cfg.File != "" {
		src, err := OpenFile(FileConfig{Path: s.cfg.File, Loop: s.cfg.Loop, BufferSize: s.cfg.BufferSize})
		if err != nil {
			return classify("file", err)
		}
		s.attachLocked(src)
		return nil
	}

	name := "microphone"
	if useSecondary {
		name = "loopback"
	}
	if err := Initialize(); err != nil {
		return classify(name, fmt.Errorf("initialize portaudio: %w", err))
	}
	capture, err := NewCapture(Config{
		DeviceName: s.cfg.DeviceName,
		BufferSize: s.cfg.BufferSize,
		Loopback:   useSecondary,
	})
	if err != nil {
		Terminate()
		return classify(name, err)
	}
	s.portRef = true
	s.attachLocked(capture)
	return nil
}

func (s *Service) attachLocked(src Source) {
	s.source = src
	s.label = src.Label()
	s.log.Printf("audio source: %s", s.label)
}

// Stop closes the running source. It is safe to call when stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.log.Printf("close audio source %s: %v", s.label, err)
		}
		s.source = nil
	}
	if s.portRef {
		Terminate()
		s.portRef = false
	}
	s.synth = nil
	s.label = ""
}

// Active reports whether a source is running.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil || s.synth != nil
}

// Label names the running source, or "" when stopped.
func (s *Service) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// Poll analyses the newest samples. A stopped service reads as silence.
func (s *Service) Poll() analyzer.Features {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.synth != nil {
		now := s.now()
		delta := now.Sub(s.last).Seconds()
		s.last = now
		return s.synth.Next(delta)
	}
	if s.source == nil {
		return analyzer.Features{}
	}
	f := s.analyzer.Analyze(s.source.Samples())
	return analyzer.GateFeatures(f, s.cfg.NoiseFloor)
}
