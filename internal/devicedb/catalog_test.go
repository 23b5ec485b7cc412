package devicedb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/database"
	"github.com/nerrad567/beamline-core/migrations"
)

const testSeed = `
devices:
  - name: YAG01
    type: PROF
    beam_area: IN20
    beam_paths: [CU_HXR, CU_SXR]
    pv_prefix: "YAG:IN20:241"
    z: 10
    accessors:
      image: IMAGE
      n_row: N_OF_ROW
      n_col: N_OF_COL
      acquire: "CAMR:IN20:241:Acquire"
      target_control: PNEUMATIC
      target_status: TGT_STS
  - name: YAG02
    type: PROF
    beam_area: IN20
    beam_paths: [CU_HXR]
    pv_prefix: "YAG:IN20:465"
    z: 20
    accessors:
      target_control: PNEUMATIC
      target_status: TGT_STS
  - name: OTR01
    type: PROF
    beam_area: LI21
    beam_paths: [CU_HXR]
    pv_prefix: "OTRS:LI21:237"
    z: 5
    accessors:
      image: IMAGE
  - name: BPM01
    type: BPM
    beam_area: IN20
    beam_paths: [CU_HXR]
    pv_prefix: "BPMS:IN20:221"
    z: 1
    accessors:
      x: X
  - name: YAG03
    type: PROF
    beam_area: IN20
    beam_paths: [CU_HXR]
    pv_prefix: "YAG:IN20:841"
    z: 30
    accessors:
      target_control: PNEUMATIC
      target_status: TGT_STS
`

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "catalog.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.Migrate(context.Background(), migrations.FS, "."))
	return NewSQLiteCatalog(db)
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	c, err := NewMemoryCatalog()
	require.NoError(t, err)
	return c
}

// forEachStore runs fn against every Store implementation, seeded.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	stores := map[string]func(*testing.T) Store{
		"sqlite": newSQLiteStore,
		"memory": newMemoryStore,
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			seed, err := ParseSeed([]byte(testSeed))
			require.NoError(t, err)
			n, err := seed.Apply(context.Background(), s)
			require.NoError(t, err)
			require.Equal(t, 5, n)
			fn(t, s)
		})
	}
}

func TestCatalog_Device(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		d, err := s.Device(context.Background(), "YAG01")
		require.NoError(t, err)

		assert.Equal(t, "PROF", d.Type)
		assert.Equal(t, "IN20", d.BeamArea)
		assert.Equal(t, []string{"CU_HXR", "CU_SXR"}, d.BeamPaths)
		assert.Equal(t, 10.0, d.ZPosition)
		assert.Len(t, d.Accessors, 6)

		assert.Equal(t, AccessorMeta{
			Name: "target_control", PVName: "YAG:IN20:241:PNEUMATIC",
			Type: controlsys.TypeInt, Writable: true,
		}, d.Accessors["target_control"])
		assert.Equal(t, "CAMR:IN20:241:Acquire", d.Accessors["acquire"].PVName)
		assert.Equal(t, controlsys.TypeBool, d.Accessors["acquire"].Type)
		assert.Equal(t, controlsys.TypeArray, d.Accessors["image"].Type)
		assert.False(t, d.Accessors["image"].Writable)
	})
}

func TestCatalog_DeviceNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Device(context.Background(), "NOPE")
		assert.True(t, errors.Is(err, ErrDeviceNotFound))
	})
}

func TestCatalog_UpstreamDevices(t *testing.T) {
	tests := []struct {
		name    string
		query   UpstreamQuery
		want    []string
		wantErr error
	}{
		{
			name:  "ordered by z, only devices with the accessor",
			query: UpstreamQuery{DeviceType: "PROF", Accessor: "target_control", BeamPath: "CU_HXR", DeviceName: "YAG03"},
			want:  []string{"YAG01", "YAG02"},
		},
		{
			name:  "other beam path",
			query: UpstreamQuery{DeviceType: "PROF", Accessor: "target_control", BeamPath: "CU_SXR", DeviceName: "YAG03"},
			want:  []string{"YAG01"},
		},
		{
			name:  "first device has nothing upstream",
			query: UpstreamQuery{DeviceType: "PROF", Accessor: "target_control", BeamPath: "CU_HXR", DeviceName: "YAG01"},
			want:  nil,
		},
		{
			name:    "unknown end device",
			query:   UpstreamQuery{DeviceType: "PROF", Accessor: "target_control", BeamPath: "CU_HXR", DeviceName: "NOPE"},
			wantErr: ErrDeviceNotFound,
		},
		{
			name:    "unknown device type",
			query:   UpstreamQuery{DeviceType: "CAMERA", Accessor: "target_control", BeamPath: "CU_HXR", DeviceName: "YAG03"},
			wantErr: ErrUnknownDeviceType,
		},
	}

	forEachStore(t, func(t *testing.T, s Store) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.UpstreamDevices(context.Background(), tt.query)
				if tt.wantErr != nil {
					assert.True(t, errors.Is(err, tt.wantErr), "err = %v", err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, len(tt.want), len(got))
				if len(tt.want) > 0 {
					assert.Equal(t, tt.want, got)
				}
			})
		}
	})
}

func TestCatalog_BeamPathsAndNames(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		paths, err := s.BeamPaths(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CU_HXR", "CU_SXR"}, paths)

		names, err := s.DeviceNames(ctx, "PROF", "CU_HXR")
		require.NoError(t, err)
		assert.Equal(t, []string{"OTR01", "YAG01", "YAG02", "YAG03"}, names)

		_, err = s.DeviceNames(ctx, "WIRE", "CU_HXR")
		assert.True(t, errors.Is(err, ErrNoDevices))

		_, err = s.DeviceNames(ctx, "SCREEN", "CU_HXR")
		assert.True(t, errors.Is(err, ErrUnknownDeviceType))
	})
}

func TestCatalog_UpsertReplaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		err := s.Upsert(ctx, &DeviceMeta{
			Name:      "YAG02",
			Type:      "PROF",
			BeamPaths: []string{"SC_DIAG0"},
			ZPosition: 99,
			Accessors: map[string]AccessorMeta{
				"target_status": AccessorDefaults("target_status", "NEW:TGT_STS"),
			},
		})
		require.NoError(t, err)

		d, err := s.Device(ctx, "YAG02")
		require.NoError(t, err)
		assert.Equal(t, []string{"SC_DIAG0"}, d.BeamPaths)
		assert.Equal(t, 99.0, d.ZPosition)
		assert.Len(t, d.Accessors, 1)
		assert.Equal(t, "NEW:TGT_STS", d.Accessors["target_status"].PVName)

		names, err := s.DeviceNames(ctx, "PROF", "CU_HXR")
		require.NoError(t, err)
		assert.NotContains(t, names, "YAG02")
	})
}

func TestCatalog_UpsertRejectsInvalid(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.Upsert(context.Background(), &DeviceMeta{Name: "EMPTY", Type: "PROF"})
		assert.True(t, errors.Is(err, ErrInvalidDevice))
		assert.True(t, errors.Is(err, ErrNoAccessors))
	})
}

func TestMemoryCatalog_ReturnsCopies(t *testing.T) {
	c, err := NewMemoryCatalog(&DeviceMeta{
		Name: "YAG01", Type: "PROF", BeamPaths: []string{"CU_HXR"},
		Accessors: map[string]AccessorMeta{"image": AccessorDefaults("image", "YAG:IMAGE")},
	})
	require.NoError(t, err)

	d, err := c.Device(context.Background(), "YAG01")
	require.NoError(t, err)
	d.BeamPaths[0] = "CHANGED"
	delete(d.Accessors, "image")

	again, err := c.Device(context.Background(), "YAG01")
	require.NoError(t, err)
	assert.Equal(t, []string{"CU_HXR"}, again.BeamPaths)
	assert.True(t, again.HasAccessor("image"))
}
