package actionloop

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDestroyed is returned by Action once the loop is destroyed.
	ErrDestroyed = errors.New("actionloop: destroyed")

	// ErrPanic wraps a panic recovered from a handler.
	ErrPanic = errors.New("actionloop: handler panicked")
)

// Result tells the loop whether to keep running after a handler returns.
type Result int

const (
	// Continue keeps the loop running.
	Continue Result = iota
	// End stops the loop and runs Cleanup.
	End
)

// Handler is implemented by the loop's owner. All methods are called on
// the loop goroutine.
type Handler[A any] interface {
	// HandleAction executes one queued action.
	HandleAction(action A) (Result, error)

	// HandleTimeout is called when no action arrives within IdleTimeout.
	HandleTimeout() (Result, error)

	// Cleanup is called exactly once when the loop stops.
	Cleanup()
}

// Logger defines the logging interface used by loops.
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

// Options configures a Loop.
type Options struct {
	// Name identifies the loop in logs, e.g. "screen YAG01".
	Name string

	// Kind labels the loop in metrics, e.g. "screen" or "upstream".
	Kind string

	// IdleTimeout fires HandleTimeout when no action arrives in time.
	// Zero disables it.
	IdleTimeout time.Duration

	Logger  Logger
	Metrics *Metrics
}

// Loop is a FIFO, run-to-completion executor with one goroutine.
type Loop[A any] struct {
	handler Handler[A]
	opts    Options

	mu        sync.Mutex
	queue     []A
	destroyed bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New starts a loop for handler.
func New[A any](handler Handler[A], opts Options) *Loop[A] {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Kind == "" {
		opts.Kind = "loop"
	}
	l := &Loop[A]{
		handler: handler,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.opts.Metrics.started(opts.Kind)
	go l.run()
	return l
}

// Action queues action. It never blocks and may be called from any
// goroutine, including from inside a handler.
func (l *Loop[A]) Action(action A) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDestroyed, l.opts.Name)
	}
	l.queue = append(l.queue, action)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Destroy stops the loop and discards queued actions. An action already
// executing runs to completion; no other action starts. Cleanup runs on
// the loop goroutine. Safe to call more than once and from any goroutine,
// including a handler.
func (l *Loop[A]) Destroy() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.destroyed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.stop)
	})
}

// Destroyed reports whether Destroy has been called or the loop ended.
func (l *Loop[A]) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// Done is closed after Cleanup has returned.
func (l *Loop[A]) Done() <-chan struct{} {
	return l.done
}

// Name returns the loop's name.
func (l *Loop[A]) Name() string {
	return l.opts.Name
}

func (l *Loop[A]) run() {
	defer func() {
		l.Destroy()
		l.cleanup()
		l.opts.Metrics.stopped(l.opts.Kind)
		close(l.done)
	}()

	for {
		action, ok, stopped := l.next()
		if stopped {
			return
		}
		if ok {
			if !l.dispatch("action", func() (Result, error) { return l.handler.HandleAction(action) }) {
				return
			}
			continue
		}

		if !l.wait() {
			return
		}
	}
}

// wait blocks until an action may be queued, the loop is stopped, or the
// idle timeout fires. It reports whether the loop should keep going.
func (l *Loop[A]) wait() bool {
	var timeout <-chan time.Time
	if l.opts.IdleTimeout > 0 {
		timer := time.NewTimer(l.opts.IdleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-l.stop:
		return false
	case <-l.wake:
		return true
	case <-timeout:
		return l.dispatch("timeout", l.handler.HandleTimeout)
	}
}

// next pops the oldest action. stopped is true once the loop is destroyed.
func (l *Loop[A]) next() (action A, ok bool, stopped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return action, false, true
	}
	if len(l.queue) == 0 {
		return action, false, false
	}
	action = l.queue[0]
	var zero A
	l.queue[0] = zero
	l.queue = l.queue[1:]
	return action, true, false
}

// dispatch runs fn and reports whether the loop should keep going.
func (l *Loop[A]) dispatch(what string, fn func() (Result, error)) bool {
	result, err := l.call(fn)
	l.opts.Metrics.handled(l.opts.Kind, what)
	if err != nil {
		l.opts.Metrics.failed(l.opts.Kind)
		l.opts.Logger.Error("action loop handler failed, stopping loop",
			"loop", l.opts.Name,
			"handler", what,
			"error", err,
		)
		return false
	}
	if result == End {
		l.opts.Logger.Debug("action loop ended", "loop", l.opts.Name)
		return false
	}
	return true
}

func (l *Loop[A]) call(fn func() (Result, error)) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func (l *Loop[A]) cleanup() {
	defer func() {
		if r := recover(); r != nil {
			l.opts.Logger.Error("action loop cleanup panicked", "loop", l.opts.Name, "panic", r)
		}
	}()
	l.handler.Cleanup()
}
