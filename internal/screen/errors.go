package screen

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDestroyed is returned by MoveTarget after the screen is destroyed.
	ErrDestroyed = errors.New("screen: destroyed")

	// ErrNotScreen is returned when a device lacks target_status or target_control.
	ErrNotScreen = errors.New("screen: device is not a screen")

	// ErrNoBeamPath is returned when no beam path is configured and the
	// device is not on exactly one.
	ErrNoBeamPath = errors.New("screen: beam path required")

	// ErrUnsupportedAccessor is returned for monitor events on accessors
	// the screen does not handle. It stops the screen.
	ErrUnsupportedAccessor = errors.New("screen: unsupported accessor")

	// ErrNotOpen is returned by Manager for screens it does not hold.
	ErrNotOpen = errors.New("screen: not open")

	// ErrManagerClosed is returned by Manager.Open after CloseAll.
	ErrManagerClosed = errors.New("screen: manager closed")
)

// ErrorKind classifies errors delivered to Handler.OnDeviceError.
type ErrorKind string

// Error kinds.
const (
	// KindFSM is a rejected request, e.g. a move while one is pending.
	KindFSM ErrorKind = "fsm"

	// KindMonitor is a connectivity or value problem on an accessor.
	KindMonitor ErrorKind = "monitor"

	// KindUpstream means an upstream check found the beam blocked or
	// could not confirm it clear.
	KindUpstream ErrorKind = "upstream"
)

// Error is delivered to Handler.OnDeviceError.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Device string    `json:"device"`

	// Accessor is set for monitor errors.
	Accessor string `json:"accessor,omitempty"`

	Message string `json:"message"`

	// Problems maps upstream device name to reason for upstream errors.
	Problems map[string]string `json:"problems,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind=%s device=%s", e.Kind, e.Device)
	if e.Accessor != "" {
		fmt.Fprintf(&b, " accessor=%s", e.Accessor)
	}
	fmt.Fprintf(&b, " message=%s", e.Message)
	return b.String()
}

// formatProblems renders problems sorted by device name.
func formatProblems(problems map[string]string) string {
	names := make([]string, 0, len(problems))
	for n := range problems {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + problems[n]
	}
	return strings.Join(parts, "; ")
}
