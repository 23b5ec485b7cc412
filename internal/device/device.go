package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
)

// DefaultTimeout bounds accessor operations when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Logger defines the logging interface used by devices and accessors.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Device.
type Options struct {
	// Timeout bounds each Get, Put and lazy channel setup.
	// Default: DefaultTimeout
	Timeout time.Duration

	// Logger receives accessor diagnostics. Default: discard.
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// Device is a named collection of accessors on one physical device.
type Device struct {
	meta   *devicedb.DeviceMeta
	client controlsys.Client
	opts   Options

	mu        sync.Mutex
	accessors map[string]*Accessor
	destroyed bool
}

// Open looks name up in catalog and returns a Device for it.
func Open(ctx context.Context, catalog devicedb.Catalog, client controlsys.Client, name string, opts Options) (*Device, error) {
	meta, err := catalog.Device(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up device %s: %w", name, err)
	}
	return New(meta, client, opts), nil
}

// New returns a Device for already resolved metadata.
func New(meta *devicedb.DeviceMeta, client controlsys.Client, opts Options) *Device {
	return &Device{
		meta:      meta.DeepCopy(),
		client:    client,
		opts:      opts.withDefaults(),
		accessors: make(map[string]*Accessor),
	}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.meta.Name
}

// Meta returns a copy of the device's catalog metadata.
func (d *Device) Meta() *devicedb.DeviceMeta {
	return d.meta.DeepCopy()
}

// HasAccessor reports whether the device defines the named accessor.
func (d *Device) HasAccessor(name string) bool {
	return d.meta.HasAccessor(name)
}

// Accessor returns the accessor for name, creating it on first use.
// The same *Accessor is returned for every call with the same name.
func (d *Device) Accessor(name string) (*Accessor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, fmt.Errorf("%w: %s", ErrDestroyed, d.meta.Name)
	}
	if a, ok := d.accessors[name]; ok {
		return a, nil
	}
	meta, ok := d.meta.Accessors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAccessor, d.meta.Name, name)
	}
	a := newAccessor(d, meta)
	d.accessors[name] = a
	return a, nil
}

// Get reads the named accessor.
func (d *Device) Get(ctx context.Context, name string) (any, error) {
	a, err := d.Accessor(name)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx)
}

// Put writes value to the named accessor.
func (d *Device) Put(ctx context.Context, name string, value any) error {
	a, err := d.Accessor(name)
	if err != nil {
		return err
	}
	return a.Put(ctx, value)
}

// Destroy disconnects every accessor. Safe to call more than once.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	accessors := d.accessors
	d.accessors = nil
	d.mu.Unlock()

	for _, a := range accessors {
		a.Destroy()
	}
}

// String returns a short description for logs.
func (d *Device) String() string {
	return "device " + d.meta.Name
}
