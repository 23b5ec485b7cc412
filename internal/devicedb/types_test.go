package devicedb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/beamline-core/internal/controlsys"
)

func TestAccessorDefaults(t *testing.T) {
	tests := []struct {
		name     string
		wantType controlsys.ValueType
		writable bool
	}{
		{"acquire", controlsys.TypeBool, true},
		{"image", controlsys.TypeArray, false},
		{"n_row", controlsys.TypeInt, false},
		{"n_col", controlsys.TypeInt, false},
		{"n_bits", controlsys.TypeInt, false},
		{"target_control", controlsys.TypeInt, true},
		{"target_status", controlsys.TypeInt, false},
		{"x", controlsys.TypeFloat, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AccessorDefaults(tt.name, "PV")
			assert.Equal(t, tt.name, a.Name)
			assert.Equal(t, "PV", a.PVName)
			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.writable, a.Writable)
		})
	}
}

func TestValidateDeviceType(t *testing.T) {
	for _, typ := range DeviceTypes() {
		assert.NoError(t, ValidateDeviceType(typ))
	}
	assert.True(t, errors.Is(ValidateDeviceType("prof"), ErrUnknownDeviceType))
	assert.Contains(t, DeviceTypes(), "PROF")
}

func TestDeviceMeta_Validate(t *testing.T) {
	valid := func() *DeviceMeta {
		return &DeviceMeta{
			Name: "YAG01", Type: "PROF",
			Accessors: map[string]AccessorMeta{"image": AccessorDefaults("image", "YAG:IMAGE")},
		}
	}

	tests := []struct {
		name    string
		modify  func(*DeviceMeta)
		wantErr string
	}{
		{"valid", func(*DeviceMeta) {}, ""},
		{"no name", func(d *DeviceMeta) { d.Name = "" }, "name is required"},
		{"bad type", func(d *DeviceMeta) { d.Type = "CAM" }, "unknown device type"},
		{"no accessors", func(d *DeviceMeta) { d.Accessors = nil }, "no accessors"},
		{"empty pv", func(d *DeviceMeta) {
			d.Accessors["image"] = AccessorMeta{Name: "image", Type: controlsys.TypeArray}
		}, "no pv_name"},
		{"mismatched key", func(d *DeviceMeta) {
			d.Accessors["picture"] = AccessorDefaults("image", "YAG:IMAGE")
		}, "names"},
		{"bad value type", func(d *DeviceMeta) {
			d.Accessors["image"] = AccessorMeta{Name: "image", PVName: "X", Type: "string"}
		}, "unknown value type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.modify(d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDevice))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSeed_Errors(t *testing.T) {
	_, err := ParseSeed([]byte(`
devices:
  - name: A
    type: PROF
    accessors:
      image: IMAGE
  - name: A
    type: CAM
  - type: PROF
`))
	require.Error(t, err)
	for _, want := range []string{
		"relative but pv_prefix is empty",
		`devices[1].name "A" is duplicate`,
		"devices[1].type",
		"devices[1].accessors must have at least one entry",
		"devices[2].name is required",
	} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}

	_, err = ParseSeed([]byte("devices: [oops"))
	assert.Error(t, err)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0600))

	s, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, s.Devices, 5)

	meta := s.Devices[0].Meta()
	assert.Equal(t, "YAG:IN20:241:TGT_STS", meta.Accessors["target_status"].PVName)
	assert.Equal(t, "CAMR:IN20:241:Acquire", meta.Accessors["acquire"].PVName)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
