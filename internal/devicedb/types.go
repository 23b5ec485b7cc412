package devicedb

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/nerrad567/beamline-core/internal/controlsys"
)

// Device kinds and the catalog device types belonging to each.
var DeviceKinds = map[string][]string{
	"bpms":    {"BPM"},
	"lblms":   {"LBLM"},
	"magnets": {"BEND", "QUAD", "SOLE", "XCOR", "YCOR"},
	"screens": {"PROF"},
	"tcavs":   {"LCAV"},
	"wires":   {"WIRE"},
}

// DeviceTypes returns every known device type, sorted.
func DeviceTypes() []string {
	var out []string
	for _, types := range DeviceKinds {
		out = append(out, types...)
	}
	sort.Strings(out)
	return out
}

// ValidateDeviceType returns ErrUnknownDeviceType unless t is a known type.
func ValidateDeviceType(t string) error {
	for _, types := range DeviceKinds {
		if slices.Contains(types, t) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownDeviceType, t)
}

// AccessorMeta describes one accessor of a device.
type AccessorMeta struct {
	Name     string               `json:"name"`
	PVName   string               `json:"pv_name"`
	Type     controlsys.ValueType `json:"type"`
	Writable bool                 `json:"writable"`
}

// DeviceMeta describes a device and its accessors.
type DeviceMeta struct {
	Name      string                  `json:"name"`
	Type      string                  `json:"type"`
	BeamArea  string                  `json:"beam_area"`
	BeamPaths []string                `json:"beam_paths"`
	PVPrefix  string                  `json:"pv_prefix"`
	ZPosition float64                 `json:"z_position"`
	Accessors map[string]AccessorMeta `json:"accessors"`
}

// HasAccessor reports whether the device exposes the named accessor.
func (d *DeviceMeta) HasAccessor(name string) bool {
	_, ok := d.Accessors[name]
	return ok
}

// OnBeamPath reports whether the device is on the named beam path.
func (d *DeviceMeta) OnBeamPath(path string) bool {
	return slices.Contains(d.BeamPaths, path)
}

// Validate checks the metadata is complete enough to build a device from.
func (d *DeviceMeta) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if err := ValidateDeviceType(d.Type); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDevice, d.Name, err)
	}
	if len(d.Accessors) == 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDevice, d.Name, ErrNoAccessors)
	}
	for name, a := range d.Accessors {
		if a.Name != name {
			return fmt.Errorf("%w: %s: accessor key %s names %q", ErrInvalidDevice, d.Name, name, a.Name)
		}
		if a.PVName == "" {
			return fmt.Errorf("%w: %s: accessor %s has no pv_name", ErrInvalidDevice, d.Name, name)
		}
		if _, err := controlsys.ParseValueType(string(a.Type)); err != nil {
			return fmt.Errorf("%w: %s: accessor %s: %w", ErrInvalidDevice, d.Name, name, err)
		}
	}
	return nil
}

// DeepCopy returns an independent copy.
func (d *DeviceMeta) DeepCopy() *DeviceMeta {
	cp := *d
	cp.BeamPaths = slices.Clone(d.BeamPaths)
	cp.Accessors = make(map[string]AccessorMeta, len(d.Accessors))
	for k, v := range d.Accessors {
		cp.Accessors[k] = v
	}
	return &cp
}

// accessorDefaults holds the fixed type and writability of known accessors.
// Anything not listed is a read-only float.
var accessorDefaults = map[string]struct {
	typ      controlsys.ValueType
	writable bool
}{
	"acquire":        {controlsys.TypeBool, true},
	"image":          {controlsys.TypeArray, false},
	"n_bits":         {controlsys.TypeInt, false},
	"n_col":          {controlsys.TypeInt, false},
	"n_row":          {controlsys.TypeInt, false},
	"target_control": {controlsys.TypeInt, true},
	"target_status":  {controlsys.TypeInt, false},
}

// AccessorDefaults builds the metadata for accessor name at address pv.
func AccessorDefaults(name, pv string) AccessorMeta {
	meta := AccessorMeta{Name: name, PVName: pv, Type: controlsys.TypeFloat}
	if d, ok := accessorDefaults[name]; ok {
		meta.Type = d.typ
		meta.Writable = d.writable
	}
	return meta
}

// UpstreamQuery selects devices between the beam source and DeviceName.
type UpstreamQuery struct {
	// DeviceType restricts results to one catalog type, e.g. "PROF".
	DeviceType string
	// Accessor restricts results to devices exposing it, e.g. "target_control".
	Accessor string
	BeamPath string
	// DeviceName is the end device; only devices with a smaller z qualify.
	DeviceName string
}

// Catalog is the read side of the device catalog.
type Catalog interface {
	// Device returns metadata for name.
	// Returns ErrDeviceNotFound if it does not exist.
	Device(ctx context.Context, name string) (*DeviceMeta, error)

	// UpstreamDevices returns device names matching q, ordered by z position.
	UpstreamDevices(ctx context.Context, q UpstreamQuery) ([]string, error)

	// BeamPaths returns every beam path name, sorted.
	BeamPaths(ctx context.Context) ([]string, error)

	// DeviceNames returns devices of deviceType on beamPath, sorted.
	// Returns ErrNoDevices when there are none.
	DeviceNames(ctx context.Context, deviceType, beamPath string) ([]string, error)
}

// Store is a Catalog that can also be written to.
type Store interface {
	Catalog

	// Upsert inserts or replaces a device and its accessors and beam paths.
	Upsert(ctx context.Context, d *DeviceMeta) error
}
