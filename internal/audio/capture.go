package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Capture wraps a PortAudio input stream and keeps the latest mono
// samples in a ring the render loop can poll.
type Capture struct {
	*ring

	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	mono       []float32
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	BufferSize int
	Channels   int
	// Loopback restricts auto-detection to monitor/loopback devices,
	// which carry what the machine is playing rather than the microphone.
	Loopback bool
}

const defaultBufferSize = 4096

var loopbackKeywords = []string{"monitor", "loopback", "stereo mix", "what u hear", "mix"}

// NewCapture opens and starts a PortAudio input stream.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := findDevice(cfg.DeviceName, cfg.Loopback)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		cfg.Channels = device.MaxInputChannels
	}

	capture := &Capture{
		ring:       newRing(cfg.BufferSize),
		sampleRate: device.DefaultSampleRate,
		channels:   cfg.Channels,
		device:     device,
	}

	framesPerBuffer := cfg.BufferSize / cfg.Channels
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      capture.sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, capture.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	capture.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return capture, nil
}

// Close stops and closes the underlying stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !stoppedAlready(err) {
		return err
	}
	return c.stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the device the stream reads from.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

// Label names the device for status output.
func (c *Capture) Label() string {
	if c.device == nil {
		return "capture"
	}
	return c.device.Name
}

func (c *Capture) process(in []float32) {
	c.mono = downmix(c.mono, in, c.channels)
	c.write(c.mono)
}

func stoppedAlready(err error) bool {
	return errors.Is(err, portaudio.StreamIsStopped) || errors.Is(err, portaudio.InternalError)
}

func findDevice(name string, loopback bool) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	if loopback {
		if dev := pickBestDevice(devices, true); dev != nil {
			return dev, nil
		}
		return nil, fmt.Errorf("%w: no monitor or loopback input", errNoDevice)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil {
		if host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	if dev := pickBestDevice(devices, false); dev != nil {
		return dev, nil
	}
	return nil, errNoDevice
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errNoDevice, name)
}

// deviceCandidate is the scoring view of a device.
type deviceCandidate struct {
	Index     int
	Name      string
	Inputs    int
	IsDefault bool
	IsHostDef bool
}

func pickBestDevice(devices []*portaudio.DeviceInfo, loopbackOnly bool) *portaudio.DeviceInfo {
	defaultInput := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInput = def.Index
	}
	defaultHost := -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		defaultHost = host.DefaultInputDevice.Index
	}

	byIndex := make(map[int]*portaudio.DeviceInfo, len(devices))
	candidates := make([]deviceCandidate, 0, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		byIndex[d.Index] = d
		candidates = append(candidates, deviceCandidate{
			Index:     d.Index,
			Name:      d.Name,
			Inputs:    d.MaxInputChannels,
			IsDefault: d.Index == defaultInput,
			IsHostDef: d.Index == defaultHost,
		})
	}
	best, ok := rankDevices(candidates, loopbackOnly)
	if !ok {
		return nil
	}
	return byIndex[best.Index]
}

// rankDevices scores input-capable devices: default devices first, then
// loopback-looking names. With loopbackOnly, only loopback names qualify.
func rankDevices(devices []deviceCandidate, loopbackOnly bool) (deviceCandidate, bool) {
	type scored struct {
		dev   deviceCandidate
		score int
	}
	var results []scored
	for _, d := range devices {
		if d.Inputs <= 0 {
			continue
		}
		isLoopback := isLoopbackName(d.Name)
		if loopbackOnly && !isLoopback {
			continue
		}

		score := d.Inputs
		if d.IsDefault {
			score += 50
		}
		if d.IsHostDef {
			score += 40
		}
		if isLoopback {
			score += 20
		}
		if strings.Contains(strings.ToLower(d.Name), "default") {
			score += 10
		}
		results = append(results, scored{dev: d, score: score})
	}
	if len(results) == 0 {
		return deviceCandidate{}, false
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})
	return results[0].dev, true
}

// AutoDetectDevice returns the input device NewCapture would pick.
func AutoDetectDevice(loopback bool) (*portaudio.DeviceInfo, error) {
	return findDevice("", loopback)
}
