// Package ui holds the presentation state of the voice session and the two
// surfaces that expose it: a line-oriented terminal console and an HTTP JSON
// endpoint.
//
// The session writes to a [Store]; surfaces read snapshots from it and
// subscribe to change notifications. The store never calls back into the
// session, so presentation can never block audio.
package ui

import "fmt"

// Status is the connection status shown to the user. Exactly one value is
// active at a time.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusClosed
)

var statusNames = [...]string{
	StatusIdle:       "IDLE",
	StatusConnecting: "CONNECTING",
	StatusConnected:  "CONNECTED",
	StatusError:      "ERROR",
	StatusClosed:     "CLOSED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// IsResting reports whether a new session may be started from s.
func (s Status) IsResting() bool {
	switch s {
	case StatusIdle, StatusError, StatusClosed:
		return true
	}
	return false
}

// MarshalText encodes s by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("ui: unknown status %q", text)
}
