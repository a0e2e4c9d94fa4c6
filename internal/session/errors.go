package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
)

// Category classifies session failures for the error panel.
type Category int

const (
	// CategoryTransport is any remote or network failure that is not an
	// access problem.
	CategoryTransport Category = iota

	// CategoryDevice means the microphone or speaker could not be opened.
	CategoryDevice

	// CategoryPermission means the remote service refused access.
	CategoryPermission

	// CategoryDecode means an inbound audio payload was malformed. It is
	// reported per chunk and never ends the session.
	CategoryDecode
)

func (c Category) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryPermission:
		return "permission"
	case CategoryDecode:
		return "decode"
	default:
		return "transport"
	}
}

// User-facing messages per category.
const (
	msgDevice     = "Ritual failure. Microphone unreachable."
	msgPermission = "The Ghost is barred by a celestial firewall (API Permission Error). Check your project's Live API status."
	msgTransport  = "The link has fractured. Wolfa is lost in the void."
	msgDecode     = "A fragment of the Ghost's voice was lost in transit."
)

// Message returns the user-facing text for c.
func (c Category) Message() string {
	switch c {
	case CategoryDevice:
		return msgDevice
	case CategoryPermission:
		return msgPermission
	case CategoryDecode:
		return msgDecode
	default:
		return msgTransport
	}
}

// Classify maps err onto a Category.
func Classify(err error) Category {
	switch {
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return CategoryDevice
	case errors.Is(err, s2s.ErrPermissionDenied):
		return CategoryPermission
	case errors.Is(err, audio.ErrMalformedBase64):
		return CategoryDecode
	default:
		return CategoryTransport
	}
}

// Error is a categorized session failure.
type Error struct {
	Category Category
	Err      error
}

// newError classifies err.
func newError(err error) *Error {
	return &Error{Category: Classify(err), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text.
func (e *Error) Message() string {
	return e.Category.Message()
}
