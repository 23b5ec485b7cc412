package devicedb

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryCatalog is an in-process Store.
type MemoryCatalog struct {
	mu      sync.RWMutex
	devices map[string]*DeviceMeta
}

// NewMemoryCatalog returns a catalog holding copies of devices.
// Invalid devices are rejected with the same errors as Upsert.
func NewMemoryCatalog(devices ...*DeviceMeta) (*MemoryCatalog, error) {
	c := &MemoryCatalog{devices: make(map[string]*DeviceMeta)}
	for _, d := range devices {
		if err := c.Upsert(context.Background(), d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Upsert stores a copy of d, replacing any device with the same name.
func (c *MemoryCatalog) Upsert(_ context.Context, d *DeviceMeta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[d.Name] = d.DeepCopy()
	return nil
}

// Device returns a copy of the named device's metadata.
func (c *MemoryCatalog) Device(_ context.Context, name string) (*DeviceMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return d.DeepCopy(), nil
}

// UpstreamDevices returns devices upstream of q.DeviceName, ordered by z.
func (c *MemoryCatalog) UpstreamDevices(_ context.Context, q UpstreamQuery) ([]string, error) {
	if err := ValidateDeviceType(q.DeviceType); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	end, ok := c.devices[q.DeviceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, q.DeviceName)
	}

	var matches []*DeviceMeta
	for _, d := range c.devices {
		if d.Type == q.DeviceType &&
			d.OnBeamPath(q.BeamPath) &&
			d.HasAccessor(q.Accessor) &&
			d.ZPosition < end.ZPosition {
			matches = append(matches, d)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ZPosition != matches[j].ZPosition {
			return matches[i].ZPosition < matches[j].ZPosition
		}
		return matches[i].Name < matches[j].Name
	})

	out := make([]string, len(matches))
	for i, d := range matches {
		out[i] = d.Name
	}
	return out, nil
}

// BeamPaths returns every beam path any device is on, sorted.
func (c *MemoryCatalog) BeamPaths(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, d := range c.devices {
		for _, p := range d.BeamPaths {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// DeviceNames returns devices of deviceType on beamPath, sorted.
func (c *MemoryCatalog) DeviceNames(_ context.Context, deviceType, beamPath string) ([]string, error) {
	if err := ValidateDeviceType(deviceType); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, d := range c.devices {
		if d.Type == deviceType && d.OnBeamPath(beamPath) {
			out = append(out, d.Name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: type=%s beam_path=%s", ErrNoDevices, deviceType, beamPath)
	}
	sort.Strings(out)
	return out, nil
}
