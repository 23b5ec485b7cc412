package events

import (
	"sync"

	"github.com/nerrad567/beamline-core/internal/device"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
)

// LogSink writes events to a structured logger. Image updates are logged
// at debug level without pixel data.
type LogSink struct {
	Logger Logger
}

// Publish implements Sink.
func (s LogSink) Publish(e Event) {
	switch e.Kind {
	case KindError:
		s.Logger.Warn("screen error",
			"device", e.Device,
			"kind", e.Error.Kind,
			"accessor", e.Error.Accessor,
			"message", e.Error.Message,
		)
	case KindMoveRequest:
		s.Logger.Info("target move requested", "device", e.Device, "want_in", *e.WantIn)
	case KindUpdate:
		if e.Accessor == device.ImageAccessor {
			s.Logger.Debug("screen image", "device", e.Device)
			return
		}
		s.Logger.Info("screen update", "device", e.Device, "accessor", e.Accessor, "value", e.Value)
	}
}

// Publisher is the part of mqtt.Client MQTTSink needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// DefaultMQTTBuffer is the number of events MQTTSink queues before new
// ones are dropped.
const DefaultMQTTBuffer = 256

// MQTTSink publishes events as JSON from its own goroutine. Errors and
// move requests go to <prefix>/screen/<device>/<kind>. Updates go to
// <prefix>/screen/<device>/update/<accessor> and are retained, so late
// subscribers see the latest value of every accessor. Images are not
// published; they belong on the camera's own stream.
//
// Thread Safety:
//   - Publish never blocks; events are dropped with a warning when the
//     queue is full.
//   - Close drains the queue and is safe to call more than once.
type MQTTSink struct {
	publisher Publisher
	logger    Logger
	queue     chan Event
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewMQTTSink starts a sink publishing through pub.
//
// Parameters:
//   - pub: MQTT publisher
//   - logger: receives publish failures and drops (may be nil)
//   - buffer: queue length; DefaultMQTTBuffer when <= 0
//
// Returns:
//   - *MQTTSink: running sink; call Close on shutdown
func NewMQTTSink(pub Publisher, logger Logger, buffer int) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	if buffer <= 0 {
		buffer = DefaultMQTTBuffer
	}
	s := &MQTTSink{
		publisher: pub,
		logger:    logger,
		queue:     make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish implements Sink.
func (s *MQTTSink) Publish(e Event) {
	if e.Kind == KindUpdate && e.Accessor == device.ImageAccessor {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("mqtt event queue full, event dropped", "device", e.Device, "kind", e.Kind)
	}
}

// Close stops accepting events and waits until queued ones are sent.
func (s *MQTTSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *MQTTSink) run() {
	defer close(s.done)
	topics := s.publisher.Topics()
	for e := range s.queue {
		topic := topics.ScreenEvent(e.Device, string(e.Kind))
		if e.Kind == KindUpdate {
			topic = topics.ScreenUpdate(e.Device, e.Accessor)
		}
		if err := s.publisher.PublishJSON(topic, e, e.Kind == KindUpdate); err != nil {
			s.logger.Warn("publishing screen event failed", "topic", topic, "error", err)
		}
	}
}

// HistoryWriter is the part of influxdb.Client InfluxSink needs.
type HistoryWriter interface {
	WriteScreenUpdate(device, accessor string, value any) bool
	WriteScreenError(device, kind, accessor, message string)
	WriteMoveRequest(device string, wantIn bool)
}

// InfluxSink records events as time-series points.
type InfluxSink struct {
	Writer HistoryWriter
}

// Publish implements Sink.
func (s InfluxSink) Publish(e Event) {
	switch e.Kind {
	case KindUpdate:
		s.Writer.WriteScreenUpdate(e.Device, e.Accessor, e.Value)
	case KindError:
		s.Writer.WriteScreenError(e.Device, string(e.Error.Kind), e.Error.Accessor, e.Error.Message)
	case KindMoveRequest:
		s.Writer.WriteMoveRequest(e.Device, *e.WantIn)
	}
}
