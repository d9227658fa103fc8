package audio

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gordonklaus/portaudio"
)

// Kind classifies why an audio source could not start.
type Kind int

const (
	// KindPermission means the OS or the user refused access.
	KindPermission Kind = iota + 1
	// KindUnsupported means no device or decoder can serve the request.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrPermission matches any SourceError of KindPermission.
	ErrPermission = errors.New("audio access denied")
	// ErrUnsupported matches any SourceError of KindUnsupported.
	ErrUnsupported = errors.New("audio source unsupported")

	errNoDevice      = errors.New("no suitable audio input device found")
	errUnknownFormat = errors.New("unsupported audio file type")
)

// SourceError is returned by Service.Start when a source cannot be opened.
type SourceError struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("audio %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPermission) and errors.Is(err, ErrUnsupported)
// match on Kind.
func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrPermission:
		return e.Kind == KindPermission
	case ErrUnsupported:
		return e.Kind == KindUnsupported
	}
	return false
}

// classify maps backend failures onto a SourceError. Errors it does not
// recognise are returned wrapped but unclassified.
func classify(source string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, portaudio.DeviceUnavailable):
		return &SourceError{Kind: KindPermission, Source: source, Err: err}
	case errors.Is(err, errNoDevice),
		errors.Is(err, errUnknownFormat),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, portaudio.NoDefaultInputDevice),
		errors.Is(err, portaudio.InvalidDevice),
		errors.Is(err, portaudio.InvalidChannelCount),
		errors.Is(err, portaudio.InvalidSampleRate),
		errors.Is(err, portaudio.BadIODeviceCombination),
		errors.Is(err, portaudio.HostApiNotFound):
		return &SourceError{Kind: KindUnsupported, Source: source, Err: err}
	}
	return fmt.Errorf("%s: %w", source, err)
}
