package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Initialize starts PortAudio. Calls are reference counted and must be
// balanced with Terminate.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	initRefs++
	return nil
}

// Terminate releases one Initialize reference.
func Terminate() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}
