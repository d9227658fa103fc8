package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/ncruces/zenity"
)

// FileExtensions lists the formats OpenFile decodes.
var FileExtensions = []string{".wav", ".mp3", ".flac"}

var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// FileSource plays an audio file through the speaker and records what it
// plays for analysis.
type FileSource struct {
	*ring

	path     string
	file     *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	done     chan struct{}
	once     sync.Once
}

// FileConfig controls OpenFile.
type FileConfig struct {
	Path       string
	Loop       bool
	BufferSize int
}

// OpenFile decodes a wav, mp3 or flac file and starts playing it.
func OpenFile(cfg FileConfig) (*FileSource, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(cfg.Path)); ext {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w %q", errUnknownFormat, ext)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode %s: %w", cfg.Path, err)
	}

	s := &FileSource{
		ring:     newRing(cfg.BufferSize),
		path:     cfg.Path,
		file:     f,
		streamer: streamer,
		format:   format,
		done:     make(chan struct{}),
	}

	var src beep.Streamer = streamer
	if cfg.Loop {
		src = beep.Loop(-1, streamer)
	}
	s.ctrl = &beep.Ctrl{Streamer: newTap(src, s.ring)}

	if err := initSpeaker(format.SampleRate); err != nil {
		_ = streamer.Close()
		_ = f.Close()
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	speaker.Play(beep.Seq(s.ctrl, beep.Callback(func() {
		s.once.Do(func() { close(s.done) })
	})))
	return s, nil
}

func initSpeaker(rate beep.SampleRate) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()
	if speakerRate == rate {
		speaker.Clear()
		return nil
	}
	if speakerRate != 0 {
		speaker.Clear()
	}
	if err := speaker.Init(rate, rate.N(time.Second/20)); err != nil {
		return err
	}
	speakerRate = rate
	return nil
}

// Label names the file for status output.
func (s *FileSource) Label() string {
	return filepath.Base(s.path)
}

// Done is closed when playback reaches the end of a non-looping file.
func (s *FileSource) Done() <-chan struct{} {
	return s.done
}

// Duration is the length of one pass through the file.
func (s *FileSource) Duration() time.Duration {
	return s.format.SampleRate.D(s.streamer.Len())
}

// Close stops playback and releases the decoder.
func (s *FileSource) Close() error {
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
	speaker.Clear()
	s.once.Do(func() { close(s.done) })
	err := s.streamer.Close()
	if cerr := s.file.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	return err
}

// tap passes audio through unchanged while downmixing every chunk into
// a ring.
type tap struct {
	src  beep.Streamer
	dst  *ring
	mono []float32
}

func newTap(src beep.Streamer, dst *ring) *tap {
	return &tap{src: src, dst: dst}
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.src.Stream(samples)
	if n > 0 {
		if cap(t.mono) < n {
			t.mono = make([]float32, n)
		}
		mono := t.mono[:n]
		for i := 0; i < n; i++ {
			mono[i] = float32((samples[i][0] + samples[i][1]) / 2)
		}
		t.dst.write(mono)
	}
	return n, ok
}

func (t *tap) Err() error { return t.src.Err() }

// PickFile asks the user for an audio file. It returns "" when the
// dialog is cancelled.
func PickFile() (string, error) {
	patterns := make([]string, len(FileExtensions))
	for i, ext := range FileExtensions {
		patterns[i] = "*" + ext
	}
	path, err := zenity.SelectFile(
		zenity.Title("Choose audio source"),
		zenity.FileFilters{{Name: "Audio", Patterns: patterns}},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}
