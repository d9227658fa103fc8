package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/image/draw"
)

// ErrWorkerClosed is returned after the worker process has gone away.
var ErrWorkerClosed = errors.New("segmentation worker closed")

// maxMessage bounds a single response so a corrupt prefix cannot make us
// allocate gigabytes.
const maxMessage = 64 << 20

// request is sent to the worker for every frame.
type request struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	RGBA   []byte `msgpack:"frame_data"`
}

// response carries one mask back.
type response struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Mask   []byte `msgpack:"mask"`
	Error  string `msgpack:"error,omitempty"`
}

// ProcessConfig describes an external segmentation worker.
type ProcessConfig struct {
	Command []string      // argv; the worker speaks length-prefixed msgpack on stdin/stdout
	Width   int           // frames are scaled to this size before sending
	Height  int
	Timeout time.Duration // per request
	Log     *log.Logger
}

// ProcessSegmenter runs a model in a child process. Each Segment call is
// one request/response exchange framed as a 4-byte big-endian length
// followed by a msgpack document.
type ProcessSegmenter struct {
	cfg ProcessConfig
	cmd *exec.Cmd

	mu      sync.Mutex
	w       io.Writer
	r       io.Reader
	closer  io.Closer
	scratch *image.RGBA
	seq     uint64
	closed  bool

	done chan struct{}
}

// StartProcess spawns the worker.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*ProcessSegmenter, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("segmentation worker command is required")
	}
	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start segmentation worker: %w", err)
	}

	p := newProcessSegmenter(cfg, stdout, stdin, stdin)
	p.cmd = cmd
	go p.logStderr(stderr)
	go p.wait()
	p.logf("segmentation worker started pid=%d", cmd.Process.Pid)
	return p, nil
}

func newProcessSegmenter(cfg ProcessConfig, r io.Reader, w io.Writer, c io.Closer) *ProcessSegmenter {
	if cfg.Width <= 0 {
		cfg.Width = 256
	}
	if cfg.Height <= 0 {
		cfg.Height = 144
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &ProcessSegmenter{
		cfg:    cfg,
		r:      bufio.NewReader(r),
		w:      w,
		closer: c,
		done:   make(chan struct{}),
	}
}

// Segment sends frame to the worker and waits for its mask.
func (p *ProcessSegmenter) Segment(ctx context.Context, frame image.Image) (*Mask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrWorkerClosed
	}

	if p.scratch == nil {
		p.scratch = image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	}
	draw.ApproxBiLinear.Scale(p.scratch, p.scratch.Rect, frame, frame.Bounds(), draw.Src, nil)
	p.seq++
	req := request{Seq: p.seq, Width: p.cfg.Width, Height: p.cfg.Height, RGBA: p.scratch.Pix}

	type result struct {
		m   *Mask
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := p.exchange(req)
		ch <- result{m, err}
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.m, res.err
	case <-timer.C:
		// The stream is out of sync now; nothing after this can be trusted.
		p.shutdownLocked()
		return nil, fmt.Errorf("segmentation worker timed out after %s", p.cfg.Timeout)
	case <-ctx.Done():
		p.shutdownLocked()
		return nil, ctx.Err()
	case <-p.done:
		p.closed = true
		return nil, ErrWorkerClosed
	}
}

func (p *ProcessSegmenter) exchange(req request) (*Mask, error) {
	if err := writeMessage(p.w, req); err != nil {
		return nil, err
	}
	var resp response
	if err := readMessage(p.r, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("segmentation worker: %s", resp.Error)
	}
	if resp.Seq != req.Seq {
		return nil, fmt.Errorf("segmentation worker answered seq %d, want %d", resp.Seq, req.Seq)
	}
	m := &Mask{Width: resp.Width, Height: resp.Height, Alpha: resp.Mask, Seq: resp.Seq}
	if !m.Valid() {
		return nil, fmt.Errorf("segmentation worker sent %d bytes for %dx%d mask", len(resp.Mask), resp.Width, resp.Height)
	}
	return m, nil
}

// Close stops the worker.
func (p *ProcessSegmenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdownLocked()
}

func (p *ProcessSegmenter) shutdownLocked() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var err error
	if p.closer != nil {
		err = p.closer.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
		}
	}
	return err
}

func (p *ProcessSegmenter) wait() {
	err := p.cmd.Wait()
	if err != nil {
		p.logf("segmentation worker exited: %v", err)
	}
	close(p.done)
}

func (p *ProcessSegmenter) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logf("segmentation worker: %s", scanner.Text())
	}
}

func (p *ProcessSegmenter) logf(format string, args ...any) {
	if p.cfg.Log != nil {
		p.cfg.Log.Printf(format, args...)
	}
}

func writeMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write msgpack body: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrWorkerClosed
		}
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessage {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read msgpack body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}
