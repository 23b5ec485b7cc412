package devicedb

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a YAML device list upserted into the catalog at startup.
//
//	devices:
//	  - name: YAG01
//	    type: PROF
//	    beam_area: IN20
//	    beam_paths: [CU_HXR, CU_SXR]
//	    pv_prefix: "YAG:IN20:241"
//	    z: 2059.9
//	    accessors:
//	      acquire: "CAMR:IN20:241:Acquire"   # full address
//	      target_status: TGT_STS             # relative to pv_prefix
type Seed struct {
	Devices []SeedDevice `yaml:"devices"`
}

// SeedDevice is one device entry in a seed file.
type SeedDevice struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	BeamArea  string   `yaml:"beam_area"`
	BeamPaths []string `yaml:"beam_paths"`
	PVPrefix  string   `yaml:"pv_prefix"`
	Z         float64  `yaml:"z"`

	// Accessors maps accessor name to control-system address. Addresses
	// without a ':' are relative to PVPrefix.
	Accessors map[string]string `yaml:"accessors"`
}

// LoadSeed reads and validates a seed file.
//
// Parameters:
//   - path: Path to the YAML seed file
//
// Returns:
//   - *Seed: Parsed device list
//   - error: If the file cannot be read, parsed, or a device is invalid
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses and validates seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every device entry, collecting all problems.
func (s *Seed) Validate() error {
	var errs []string
	names := make(map[string]bool)

	for i, d := range s.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
			continue
		}
		if names[d.Name] {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicate", i, d.Name))
		}
		names[d.Name] = true

		if err := ValidateDeviceType(d.Type); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].type: %v", i, err))
		}
		if len(d.Accessors) == 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].accessors must have at least one entry", i))
		}
		for name, pv := range d.Accessors {
			if pv == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].accessors.%s is empty", i, name))
			} else if !strings.Contains(pv, ":") && d.PVPrefix == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].accessors.%s is relative but pv_prefix is empty", i, name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: seed errors: %s", ErrInvalidDevice, strings.Join(errs, "; "))
	}
	return nil
}

// Meta converts a seed entry into catalog metadata.
func (d SeedDevice) Meta() *DeviceMeta {
	meta := &DeviceMeta{
		Name:      d.Name,
		Type:      d.Type,
		BeamArea:  d.BeamArea,
		BeamPaths: append([]string(nil), d.BeamPaths...),
		PVPrefix:  d.PVPrefix,
		ZPosition: d.Z,
		Accessors: make(map[string]AccessorMeta, len(d.Accessors)),
	}
	for name, pv := range d.Accessors {
		if !strings.Contains(pv, ":") {
			pv = d.PVPrefix + ":" + pv
		}
		meta.Accessors[name] = AccessorDefaults(name, pv)
	}
	return meta
}

// Apply upserts every device into store and returns how many were written.
func (s *Seed) Apply(ctx context.Context, store Store) (int, error) {
	for i, d := range s.Devices {
		if err := store.Upsert(ctx, d.Meta()); err != nil {
			return i, fmt.Errorf("seeding %s: %w", d.Name, err)
		}
	}
	return len(s.Devices), nil
}
