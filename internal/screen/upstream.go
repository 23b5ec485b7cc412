package screen

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/actionloop"
	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/device"
	"github.com/nerrad567/beamline-core/internal/devicedb"
)

// checkAction is queued on an upstream checker loop.
type checkAction interface{ isCheckAction() }

type statusReport struct{ change device.Change }

type deadlineReached struct{}

func (statusReport) isCheckAction()    {}
func (deadlineReached) isCheckAction() {}

// upstreamChecker waits for one target_status report from each upstream
// screen and hands a single verdict to report. Each upstream device is
// released as soon as it has reported.
type upstreamChecker struct {
	screen  string
	report  func(problems map[string]string)
	logger  Logger
	metrics *Metrics

	loop *actionloop.Loop[checkAction]

	// timer and stopped are guarded by mu.
	timer   *time.Timer
	stopped bool

	// Owned by the loop goroutine after start.
	pending  map[string]*device.Device
	problems map[string]string
	reported bool

	// mu guards pending until the loop takes over.
	mu sync.Mutex
}

type checkerDeps struct {
	catalog devicedb.Catalog
	client  controlsys.Client
	cfg     Config
	logger  Logger
	metrics *Metrics
	loops   *actionloop.Metrics
}

// startChecker opens the upstream devices and starts monitoring
// them. With nothing left to wait for, report is called before returning
// and the returned checker has no loop.
func startChecker(ctx context.Context, screen string, upstream []string, deps checkerDeps, report func(map[string]string)) *upstreamChecker {
	c := &upstreamChecker{
		screen:   screen,
		report:   report,
		logger:   deps.logger,
		metrics:  deps.metrics,
		pending:  make(map[string]*device.Device),
		problems: make(map[string]string),
	}

	for _, name := range upstream {
		dev, err := device.Open(ctx, deps.catalog, deps.client, name, device.Options{
			Timeout: deps.cfg.AccessorTimeout,
			Logger:  deps.logger,
		})
		if err != nil {
			c.problems[name] = ReasonErrorPrefix + err.Error()
			continue
		}
		c.pending[name] = dev
	}

	if len(c.pending) == 0 {
		c.finish()
		return c
	}

	c.loop = actionloop.New[checkAction](c, actionloop.Options{
		Name:        "upstream " + screen,
		Kind:        "upstream",
		IdleTimeout: deps.cfg.UpstreamTimeout,
		Logger:      deps.logger,
		Metrics:     deps.loops,
	})
	loop := c.loop

	c.mu.Lock()
	if !c.stopped {
		c.timer = time.AfterFunc(deps.cfg.UpstreamTimeout, func() {
			_ = loop.Action(deadlineReached{}) //nolint:errcheck // loop already finished
		})
	}
	devices := make(map[string]*device.Device, len(c.pending))
	for name, dev := range c.pending {
		devices[name] = dev
	}
	c.mu.Unlock()

	for name, dev := range devices {
		c.monitor(name, dev)
	}
	return c
}

func (c *upstreamChecker) monitor(name string, dev *device.Device) {
	send := func(ch device.Change) {
		_ = c.loop.Action(statusReport{ch}) //nolint:errcheck // loop already finished
	}

	a, err := dev.Accessor(AccessorTargetStatus)
	if err == nil {
		err = a.Monitor(func(ch device.Change) {
			if ch.Kind == device.ChangeConnection {
				return
			}
			send(ch)
		})
	}
	if err != nil {
		send(device.Change{
			Kind:     device.ChangeError,
			Device:   name,
			Accessor: AccessorTargetStatus,
			Err:      err.Error(),
		})
	}
}

// HandleAction implements actionloop.Handler.
func (c *upstreamChecker) HandleAction(a checkAction) (actionloop.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch a := a.(type) {
	case deadlineReached:
		return c.timeout(), nil
	case statusReport:
		ch := a.change
		dev, ok := c.pending[ch.Device]
		if !ok {
			return actionloop.Continue, nil
		}
		delete(c.pending, ch.Device)
		dev.Destroy()

		switch {
		case ch.Kind == device.ChangeError:
			c.problems[ch.Device] = ReasonErrorPrefix + ch.Err
		case statusTri(ch.Value) == True:
			c.problems[ch.Device] = ReasonBlocking
		}
		c.logger.Debug("upstream status", "screen", c.screen, "upstream", ch.Device, "value", ch.Value, "err", ch.Err)

		if len(c.pending) == 0 {
			c.finish()
			return actionloop.End, nil
		}
	}
	return actionloop.Continue, nil
}

// HandleTimeout implements actionloop.Handler.
func (c *upstreamChecker) HandleTimeout() (actionloop.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout(), nil
}

func (c *upstreamChecker) timeout() actionloop.Result {
	for name, dev := range c.pending {
		c.problems[name] = ReasonTimeout
		dev.Destroy()
		delete(c.pending, name)
	}
	c.finish()
	return actionloop.End
}

// finish delivers the verdict once.
func (c *upstreamChecker) finish() {
	if c.reported {
		return
	}
	c.reported = true
	c.metrics.upstreamChecked(len(c.problems) == 0)
	c.report(c.problems)
}

// Cleanup implements actionloop.Handler.
func (c *upstreamChecker) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	for name, dev := range c.pending {
		dev.Destroy()
		delete(c.pending, name)
	}
}

// destroy abandons the check without reporting.
func (c *upstreamChecker) destroy() {
	c.mu.Lock()
	c.reported = true
	c.mu.Unlock()

	if c.loop != nil {
		c.loop.Destroy()
	}
}
