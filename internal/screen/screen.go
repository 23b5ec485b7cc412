package screen

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/beamline-core/internal/actionloop"
	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/device"
	"github.com/nerrad567/beamline-core/internal/devicedb"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultUpstreamTimeout    = 15 * time.Second
	DefaultUpstreamDeviceType = "PROF"
)

// Handler receives everything a screen reports. Calls are made from the
// screen's loop goroutine, one at a time, and should return promptly.
type Handler interface {
	// OnDeviceError reports a rejected request, an accessor problem or a
	// failed upstream check.
	OnDeviceError(err *Error)

	// OnDeviceUpdate reports a new value. target_status arrives as true
	// (in), false (out) or nil (unknown); acquire as bool; image as
	// controlsys.Image.
	OnDeviceUpdate(accessor string, value any)
}

// Logger defines the logging interface used by screens.
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

// Config tunes a screen.
type Config struct {
	// BeamPath selects which upstream screens matter. Empty means the
	// device's only beam path.
	BeamPath string

	// UpstreamTimeout bounds one upstream check. Default: 15s.
	UpstreamTimeout time.Duration

	// UpstreamDeviceType is the catalog type of upstream screens. Default: "PROF".
	UpstreamDeviceType string

	// AccessorTimeout bounds accessor gets and puts. Default: device.DefaultTimeout.
	AccessorTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.UpstreamDeviceType == "" {
		c.UpstreamDeviceType = DefaultUpstreamDeviceType
	}
	if c.AccessorTimeout <= 0 {
		c.AccessorTimeout = device.DefaultTimeout
	}
	return c
}

// Options carries optional collaborators.
type Options struct {
	Logger      Logger
	Metrics     *Metrics
	LoopMetrics *actionloop.Metrics
}

// Screen drives one profile monitor. Its methods are safe for concurrent
// use; results are delivered to the Handler.
type Screen struct {
	name     string
	beamPath string
	device   *device.Device
	handler  Handler
	upstream []string
	deps     checkerDeps
	loop     *actionloop.Loop[action]

	// Owned by the loop goroutine.
	state   State
	checker *upstreamChecker
}

// Open looks up name in catalog, resolves the screens upstream of it on
// the beam path and starts monitoring acquire, image and target_status.
//
// Parameters:
//   - ctx: bounds catalog lookups and the initial monitor setup
//   - catalog: device metadata source
//   - client: control-system client
//   - name: screen device name, e.g. "YAG03"
//   - handler: receives updates and errors
//   - cfg: beam path and timeouts
//   - opts: logger and metrics
//
// Returns:
//   - *Screen: running screen; call Destroy when done
//   - error: ErrNotScreen, ErrNoBeamPath, catalog or monitor setup errors
func Open(ctx context.Context, catalog devicedb.Catalog, client controlsys.Client, name string, handler Handler, cfg Config, opts Options) (*Screen, error) {
	cfg = cfg.withDefaults()
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	dev, err := device.Open(ctx, catalog, client, name, device.Options{
		Timeout: cfg.AccessorTimeout,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if !dev.HasAccessor(AccessorTargetStatus) || !dev.HasAccessor(AccessorTargetControl) {
		dev.Destroy()
		return nil, fmt.Errorf("%w: %s", ErrNotScreen, name)
	}

	if cfg.BeamPath == "" {
		paths := dev.Meta().BeamPaths
		if len(paths) != 1 {
			dev.Destroy()
			return nil, fmt.Errorf("%w: %s is on %d beam paths", ErrNoBeamPath, name, len(paths))
		}
		cfg.BeamPath = paths[0]
	}

	upstream, err := catalog.UpstreamDevices(ctx, devicedb.UpstreamQuery{
		DeviceType: cfg.UpstreamDeviceType,
		Accessor:   AccessorTargetControl,
		BeamPath:   cfg.BeamPath,
		DeviceName: name,
	})
	if err != nil {
		dev.Destroy()
		return nil, fmt.Errorf("resolving upstream of %s: %w", name, err)
	}

	s := &Screen{
		name:     name,
		beamPath: cfg.BeamPath,
		device:   dev,
		handler:  handler,
		upstream: upstream,
		state:    initialState(len(upstream) > 0),
		deps: checkerDeps{
			catalog: catalog,
			client:  client,
			cfg:     cfg,
			logger:  opts.Logger,
			metrics: opts.Metrics,
			loops:   opts.LoopMetrics,
		},
	}
	s.loop = actionloop.New[action](s, actionloop.Options{
		Name:    "screen " + name,
		Kind:    "screen",
		Logger:  opts.Logger,
		Metrics: opts.LoopMetrics,
	})
	opts.Metrics.opened()

	for _, acc := range []string{AccessorAcquire, AccessorImage, AccessorTargetStatus} {
		if !dev.HasAccessor(acc) {
			continue
		}
		if err := s.monitor(acc); err != nil {
			s.Destroy()
			<-s.loop.Done()
			return nil, fmt.Errorf("monitoring %s.%s: %w", name, acc, err)
		}
	}

	opts.Logger.Info("screen opened", "device", name, "beam_path", cfg.BeamPath, "upstream", upstream)
	return s, nil
}

func (s *Screen) monitor(name string) error {
	a, err := s.device.Accessor(name)
	if err != nil {
		return err
	}
	return a.Monitor(func(c device.Change) {
		_ = s.loop.Action(monitorEvent{c}) //nolint:errcheck // screen destroyed
	})
}

// Name returns the device name.
func (s *Screen) Name() string {
	return s.name
}

// BeamPath returns the beam path used for upstream checks.
func (s *Screen) BeamPath() string {
	return s.beamPath
}

// Upstream returns the names of the screens checked before inserting.
func (s *Screen) Upstream() []string {
	return append([]string(nil), s.upstream...)
}

// MoveTarget requests the target in (true) or out (false). It returns
// immediately; the outcome arrives as a target_status update or an error
// through the Handler. The only error returned is ErrDestroyed.
func (s *Screen) MoveTarget(wantIn bool) error {
	if err := s.loop.Action(moveTargetEvent{wantIn}); err != nil {
		return fmt.Errorf("%w: %s", ErrDestroyed, s.name)
	}
	return nil
}

// Destroy stops the screen, any running upstream check, and releases all
// accessors. It does not wait; use Done for that. Safe to call more than
// once and from a Handler.
func (s *Screen) Destroy() {
	s.loop.Destroy()
}

// Done is closed once the screen has released everything.
func (s *Screen) Done() <-chan struct{} {
	return s.loop.Done()
}

// HandleAction implements actionloop.Handler.
func (s *Screen) HandleAction(a action) (actionloop.Result, error) {
	switch a := a.(type) {
	case notifyError:
		s.deps.metrics.errorReported(a.err.Kind)
		s.handler.OnDeviceError(a.err)
	case notifyUpdate:
		s.handler.OnDeviceUpdate(a.accessor, a.value)
	case startUpstreamCheck:
		s.checker = startChecker(context.Background(), s.name, s.upstream, s.deps, func(problems map[string]string) {
			_ = s.loop.Action(upstreamStatusEvent{problems}) //nolint:errcheck // screen destroyed
		})
	case writeTarget:
		s.write(a.wantIn)
	case logNotice:
		s.deps.logger.Info(a.msg, append([]any{"device", s.name}, a.args...)...)
	default:
		if _, ok := a.(upstreamStatusEvent); ok {
			s.checker = nil
		}
		next, effects, err := transition(s.name, s.state, a)
		if err != nil {
			s.deps.logger.Error("screen stopping", "device", s.name, "error", err)
			s.deps.metrics.errorReported(KindFSM)
			s.handler.OnDeviceError(&Error{Kind: KindFSM, Device: s.name, Message: "screen stopped: " + err.Error()})
			return actionloop.End, err
		}
		s.deps.logger.Debug("screen transition", "device", s.name, "event", a.actionName(),
			"target_status", next.TargetStatus, "acquire", next.Acquire, "check_upstream", next.CheckUpstream)
		s.state = next
		for _, e := range effects {
			if err := s.loop.Action(e); err != nil {
				break
			}
		}
	}
	return actionloop.Continue, nil
}

func (s *Screen) write(wantIn bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.cfg.AccessorTimeout)
	defer cancel()

	err := s.device.Put(ctx, AccessorTargetControl, controlValue(wantIn))
	s.deps.metrics.targetWritten(wantIn, err)
	if err != nil {
		_ = s.loop.Action(moveFailedEvent{wantIn: wantIn, err: err.Error()}) //nolint:errcheck // screen destroyed
		return
	}
	s.deps.logger.Info("target move written", "device", s.name, "want_in", wantIn)
}

// HandleTimeout implements actionloop.Handler. Screen loops have no idle
// timeout.
func (s *Screen) HandleTimeout() (actionloop.Result, error) {
	return actionloop.Continue, nil
}

// Cleanup implements actionloop.Handler.
func (s *Screen) Cleanup() {
	if s.checker != nil {
		s.checker.destroy()
		s.checker = nil
	}
	s.device.Destroy()
	s.deps.metrics.closed()
	s.deps.logger.Info("screen closed", "device", s.name)
}
