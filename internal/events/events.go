package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/beamline-core/internal/screen"
)

// Kind says what an Event carries.
type Kind string

// Event kinds.
const (
	KindUpdate      Kind = "update"
	KindError       Kind = "error"
	KindMoveRequest Kind = "move_request"
)

// Event is one screen observation.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Device string    `json:"device"`
	Time   time.Time `json:"time"`

	// Accessor and Value are set for updates.
	Accessor string `json:"accessor,omitempty"`
	Value    any    `json:"value"`

	// Error is set for errors.
	Error *screen.Error `json:"error,omitempty"`

	// WantIn is set for move requests.
	WantIn *bool `json:"want_in,omitempty"`
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

// Logger defines the logging interface used by the dispatcher and LogSink.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher publishes screen callbacks to sinks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher publishing to sinks.
func NewDispatcher(logger Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
}

// AddSink registers another sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Handler returns the screen.Handler for device. It matches
// screen.HandlerFactory.
func (d *Dispatcher) Handler(device string) screen.Handler {
	return &deviceHandler{d: d, device: device}
}

// MoveRequested records a move request handed to a screen. The screen
// may still refuse it; a refusal arrives later as a KindFSM error.
func (d *Dispatcher) MoveRequested(device string, wantIn bool) {
	d.publish(Event{Kind: KindMoveRequest, Device: device, WantIn: &wantIn})
}

func (d *Dispatcher) publish(e Event) {
	e.ID = uuid.NewString()
	e.Time = d.now().UTC()

	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	for _, s := range sinks {
		d.deliver(s, e)
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", "device", e.Device, "kind", e.Kind, "panic", r)
		}
	}()
	s.Publish(e)
}

type deviceHandler struct {
	d      *Dispatcher
	device string
}

func (h *deviceHandler) OnDeviceError(err *screen.Error) {
	h.d.publish(Event{Kind: KindError, Device: h.device, Error: err})
}

func (h *deviceHandler) OnDeviceUpdate(accessor string, value any) {
	h.d.publish(Event{Kind: KindUpdate, Device: h.device, Accessor: accessor, Value: value})
}
