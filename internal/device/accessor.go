package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
)

// ImageAccessor is reshaped into a controlsys.Image using the device's
// n_row and n_col accessors.
const ImageAccessor = "image"

// Accessor is one typed control-system value of a Device.
type Accessor struct {
	device  *Device
	meta    devicedb.AccessorMeta
	timeout time.Duration
	logger  Logger

	mu           sync.Mutex
	callback     func(Change)
	channel      controlsys.Channel
	initializing bool
	// initialized is closed when the current setup attempt finishes.
	initialized chan struct{}
	destroyed   bool
	rows, cols  int
}

func newAccessor(d *Device, meta devicedb.AccessorMeta) *Accessor {
	return &Accessor{
		device:      d,
		meta:        meta,
		timeout:     d.opts.Timeout,
		logger:      d.opts.Logger,
		initialized: make(chan struct{}),
	}
}

// Name returns the accessor name.
func (a *Accessor) Name() string {
	return a.meta.Name
}

// Meta returns the accessor's catalog metadata.
func (a *Accessor) Meta() devicedb.AccessorMeta {
	return a.meta
}

// String returns device.accessor and the control-system address.
func (a *Accessor) String() string {
	return fmt.Sprintf("%s.%s %s", a.device.Name(), a.meta.Name, a.meta.PVName)
}

// Get reads the current value, converted to the accessor's type.
// An image is returned as a controlsys.Image.
func (a *Accessor) Get(ctx context.Context) (any, error) {
	ch, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := ch.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get %s: %w", ErrDevice, a, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: unable to get %s", ErrDevice, a)
	}
	if !ch.Connected() {
		return nil, fmt.Errorf("%w: disconnected %s", ErrDevice, a)
	}
	v, err := a.convert(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDevice, a, err)
	}
	return v, nil
}

// Put writes value after converting it to the accessor's type.
func (a *Accessor) Put(ctx context.Context, value any) error {
	if !a.meta.Writable {
		return fmt.Errorf("%w: read-only %s", ErrAccessorPut, a)
	}
	v, err := coerce(a.meta.Type, value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAccessorPut, a, err)
	}

	ch, err := a.open(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := ch.Put(ctx, v); err != nil {
		return fmt.Errorf("%w: put value=%v %s: %w", ErrDevice, v, a, err)
	}
	if !ch.Connected() {
		return fmt.Errorf("%w: disconnected %s", ErrDevice, a)
	}
	return nil
}

// Monitor registers the only change callback and opens the channel.
// It must be called before Get or Put.
func (a *Accessor) Monitor(callback func(Change)) error {
	a.mu.Lock()
	switch {
	case a.destroyed:
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDestroyed, a)
	case a.callback != nil:
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMonitorRegistered, a)
	case a.channel != nil || a.initializing:
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMonitorAfterUse, a)
	}
	a.callback = callback
	a.mu.Unlock()

	_, err := a.open(context.Background())
	return err
}

// MonitorStop drops the callback. The channel stays open.
func (a *Accessor) MonitorStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = nil
}

// Destroy closes the channel and clears the callback. Safe to call more
// than once.
func (a *Accessor) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.initializing = false
	a.callback = nil
	ch := a.channel
	a.channel = nil
	a.signalInitialized()
	a.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			a.logger.Warn("closing channel failed", "accessor", a.String(), "error", err)
		}
	}
}

// signalInitialized wakes waiters on the current setup attempt.
// Caller must hold a.mu.
func (a *Accessor) signalInitialized() {
	select {
	case <-a.initialized:
	default:
		close(a.initialized)
	}
}

// open returns the channel, creating it on first use. Only one caller
// creates it; the rest wait up to the accessor timeout.
func (a *Accessor) open(ctx context.Context) (controlsys.Channel, error) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDestroyed, a)
	}
	if a.channel != nil {
		ch := a.channel
		a.mu.Unlock()
		return ch, nil
	}
	if a.initializing {
		ready := a.initialized
		a.mu.Unlock()
		return a.wait(ctx, ready)
	}
	a.initializing = true
	monitored := a.callback != nil
	a.mu.Unlock()

	ch, err := a.connect(ctx, monitored)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.initializing = false
		a.signalInitialized()
		a.initialized = make(chan struct{})
		return nil, err
	}
	if a.destroyed {
		ch.Close() //nolint:errcheck // destroyed during setup
		return nil, fmt.Errorf("%w: %s", ErrDestroyed, a)
	}
	a.channel = ch
	a.initializing = false
	a.signalInitialized()
	return ch, nil
}

func (a *Accessor) wait(ctx context.Context, ready <-chan struct{}) (controlsys.Channel, error) {
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out waiting for connection %s", ErrDevice, a)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrDevice, a, ctx.Err())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, fmt.Errorf("%w: %s", ErrDestroyed, a)
	}
	if a.channel == nil {
		return nil, fmt.Errorf("%w: connection setup failed %s", ErrDevice, a)
	}
	return a.channel, nil
}

// connect opens the control-system channel. The image shape must be
// known before values arrive, so it is read here.
func (a *Accessor) connect(ctx context.Context, monitored bool) (controlsys.Channel, error) {
	if a.meta.Name == ImageAccessor {
		rows, cols, err := a.imageShape(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.rows, a.cols = rows, cols
		a.mu.Unlock()
	}

	var mon *controlsys.Monitor
	if monitored {
		mon = &controlsys.Monitor{
			OnValue:      a.onValue,
			OnConnection: a.onConnection,
		}
	}
	ch, err := a.device.client.Open(a.meta.PVName, mon)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrDevice, a, err)
	}
	return ch, nil
}

func (a *Accessor) imageShape(ctx context.Context) (int, int, error) {
	dims := [2]int{}
	for i, name := range []string{"n_row", "n_col"} {
		v, err := a.device.Get(ctx, name)
		if err != nil {
			return 0, 0, fmt.Errorf("reading image shape: %w", err)
		}
		n, err := toInt(v)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("%w: invalid %s=%v for %s", ErrDevice, name, v, a)
		}
		dims[i] = int(n)
	}
	return dims[0], dims[1], nil
}

// convert turns a raw control-system value into the accessor's Go value.
func (a *Accessor) convert(raw any) (any, error) {
	if a.meta.Type == controlsys.TypeBool {
		return toBool(raw)
	}
	if a.meta.Name == ImageAccessor {
		return a.reshape(raw)
	}
	return raw, nil
}

func (a *Accessor) reshape(raw any) (controlsys.Image, error) {
	data, ok := raw.([]float64)
	if !ok {
		return controlsys.Image{}, fmt.Errorf("image is %T, not an array", raw)
	}
	a.mu.Lock()
	rows, cols := a.rows, a.cols
	a.mu.Unlock()
	if rows*cols != len(data) {
		return controlsys.Image{}, fmt.Errorf("image has %d pixels, want %dx%d", len(data), rows, cols)
	}
	return controlsys.Image{Rows: rows, Cols: cols, Data: data}, nil
}

func (a *Accessor) onConnection(connected bool) {
	a.emit(Change{Kind: ChangeConnection, Connected: connected})
}

func (a *Accessor) onValue(raw any) {
	if raw == nil {
		a.logger.Warn("missing value", "accessor", a.String())
		a.emit(Change{Kind: ChangeError, Err: "missing value or None"})
		return
	}
	if a.meta.Name == ImageAccessor {
		if data, ok := raw.([]float64); ok && len(data) == 0 {
			a.logger.Warn("empty image received", "accessor", a.String())
			a.emit(Change{Kind: ChangeError, Err: "empty image"})
			return
		}
	}
	v, err := a.convert(raw)
	if err != nil {
		a.logger.Warn("value conversion failed", "accessor", a.String(), "error", err)
		a.emit(Change{Kind: ChangeError, Err: err.Error()})
		return
	}
	a.emit(Change{Kind: ChangeValue, Value: v})
}

func (a *Accessor) emit(c Change) {
	a.mu.Lock()
	cb := a.callback
	a.mu.Unlock()
	if cb == nil {
		return
	}

	c.Device = a.device.Name()
	c.Accessor = a.meta.Name

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("monitor callback panicked", "accessor", a.String(), "panic", r)
		}
	}()
	cb(c)
}
