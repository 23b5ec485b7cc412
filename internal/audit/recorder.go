package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/events"
)

// writeTimeout bounds a single audit insert.
const writeTimeout = 5 * time.Second

// DefaultBuffer is the number of entries queued before new ones are dropped.
const DefaultBuffer = 256

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is an events.Sink that writes move requests and screen errors
// to a Repository from its own goroutine. Updates are not recorded.
//
// Thread Safety:
//   - Publish never blocks; entries are dropped with a warning when the
//     queue is full.
//   - Close drains the queue and may be called once.
type Recorder struct {
	repo   Repository
	logger Logger
	queue  chan Entry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing to repo.
//
// Parameters:
//   - repo: audit storage
//   - logger: receives write failures (may be nil)
//   - buffer: queue length; DefaultBuffer when <= 0
//
// Returns:
//   - *Recorder: running recorder; call Close on shutdown
func NewRecorder(repo Repository, logger Logger, buffer int) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish implements events.Sink.
func (r *Recorder) Publish(e events.Event) {
	entry, ok := entryFor(e)
	if !ok {
		return
	}
	r.enqueue(entry)
}

// Record queues an entry that did not come from a screen, such as a
// screen being opened or closed through the API.
func (r *Recorder) Record(action, device, source string, details map[string]any) {
	r.enqueue(Entry{
		Action:    action,
		Device:    device,
		Source:    source,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	})
}

func (r *Recorder) enqueue(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, entry dropped", "action", e.Action, "device", e.Device)
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Create(ctx, &e); err != nil {
			r.logger.Error("writing audit entry failed", "action", e.Action, "device", e.Device, "error", err)
		}
		cancel()
	}
}

// entryFor converts the events worth auditing.
func entryFor(e events.Event) (Entry, bool) {
	entry := Entry{
		ID:        e.ID,
		Device:    e.Device,
		Source:    "screen",
		CreatedAt: e.Time,
	}
	switch {
	case e.Kind == events.KindMoveRequest && e.WantIn != nil:
		entry.Action = ActionMoveRequest
		entry.Source = "api"
		entry.Details = map[string]any{"want_in": *e.WantIn}
	case e.Kind == events.KindError && e.Error != nil:
		entry.Action = ActionError
		details := map[string]any{
			"kind":    string(e.Error.Kind),
			"message": e.Error.Message,
		}
		if e.Error.Accessor != "" {
			details["accessor"] = e.Error.Accessor
		}
		if len(e.Error.Problems) > 0 {
			details["problems"] = e.Error.Problems
		}
		entry.Details = details
	default:
		return Entry{}, false
	}
	return entry, true
}
