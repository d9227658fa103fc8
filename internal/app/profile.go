package app

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// profiler appends per-section tick timings to a CSV file. It satisfies
// engine.Tracer.
type profiler struct {
	mu    sync.Mutex
	file  *os.File
	start time.Time
	last  time.Time
	now   func() time.Time
}

func newProfiler(path string, logger *log.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if logger != nil {
			logger.Printf("profiler disabled: %v", err)
		}
		return nil
	}
	p := &profiler{file: f, now: time.Now}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintln(p.file, "timestamp,section,delta_ms")
	}
	return p
}

func (p *profiler) BeginFrame() {
	now := p.now()
	p.start = now
	p.last = now
}

func (p *profiler) Mark(section string) {
	now := p.now()
	delta := now.Sub(p.last).Seconds() * 1000
	p.last = now
	p.write(now, section, delta)
}

func (p *profiler) EndFrame() {
	now := p.now()
	p.write(now, "frame_total", now.Sub(p.start).Seconds()*1000)
}

func (p *profiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

func (p *profiler) write(at time.Time, section string, deltaMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	fmt.Fprintf(p.file, "%s,%s,%.3f\n", at.Format(time.RFC3339Nano), section, deltaMs)
}
