package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
	"github.com/nerrad567/beamline-core/internal/screen"
)

// Simulated detector geometry and frame rate.
const (
	simRows     = 8
	simCols     = 8
	simInterval = time.Second
)

// simScreen holds the addresses of one simulated screen.
type simScreen struct {
	name    string
	status  string
	control string
	acquire string
	image   string
	rows    string
	cols    string
}

// newSimulator builds an in-memory control system for every screen of
// deviceType in the catalog. Each pneumatic actuator drives its status
// readback and targets start out. Frames are published to inserted,
// acquiring screens until ctx is cancelled.
func newSimulator(ctx context.Context, catalog devicedb.Catalog, deviceType string) (*controlsys.Memory, error) {
	if deviceType == "" {
		deviceType = screen.DefaultUpstreamDeviceType
	}

	screens, err := simScreens(ctx, catalog, deviceType)
	if err != nil {
		return nil, err
	}

	mem := controlsys.NewMemory()
	for _, s := range screens {
		mem.Set(s.status, screen.StatusOut)
		mem.Link(s.control, s.status, pneumatic)
		if s.acquire != "" {
			mem.Set(s.acquire, true)
		}
		if s.image != "" {
			mem.Set(s.rows, simRows)
			mem.Set(s.cols, simCols)
		}
	}

	go runFrames(ctx, mem, screens)
	return mem, nil
}

// pneumatic maps a control write onto the status readback.
func pneumatic(v any) any {
	if n, ok := v.(int64); ok && n == screen.ControlIn {
		return screen.StatusIn
	}
	return screen.StatusOut
}

// simScreens lists every device of deviceType that has target accessors.
func simScreens(ctx context.Context, catalog devicedb.Catalog, deviceType string) ([]simScreen, error) {
	paths, err := catalog.BeamPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing beam paths: %w", err)
	}

	seen := make(map[string]bool)
	var out []simScreen
	for _, path := range paths {
		names, err := catalog.DeviceNames(ctx, deviceType, path)
		if errors.Is(err, devicedb.ErrNoDevices) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s devices on %s: %w", deviceType, path, err)
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true

			meta, err := catalog.Device(ctx, name)
			if err != nil {
				return nil, err
			}
			if s, ok := newSimScreen(meta); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func newSimScreen(meta *devicedb.DeviceMeta) (simScreen, bool) {
	pv := func(name string) string {
		return meta.Accessors[name].PVName
	}
	if !meta.HasAccessor(screen.AccessorTargetStatus) || !meta.HasAccessor(screen.AccessorTargetControl) {
		return simScreen{}, false
	}
	s := simScreen{
		name:    meta.Name,
		status:  pv(screen.AccessorTargetStatus),
		control: pv(screen.AccessorTargetControl),
		acquire: pv(screen.AccessorAcquire),
	}
	if meta.HasAccessor(screen.AccessorImage) && meta.HasAccessor("n_row") && meta.HasAccessor("n_col") {
		s.image = pv(screen.AccessorImage)
		s.rows = pv("n_row")
		s.cols = pv("n_col")
	}
	return s, true
}

// runFrames publishes a beam spot to every inserted screen that is
// acquiring.
func runFrames(ctx context.Context, mem *controlsys.Memory, screens []simScreen) {
	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	var frame int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame++
		for _, s := range screens {
			if s.image == "" || !inserted(mem, s) || !acquiring(mem, s) {
				continue
			}
			mem.Set(s.image, beamSpot(frame))
		}
	}
}

func inserted(mem *controlsys.Memory, s simScreen) bool {
	v, _ := mem.Value(s.status)
	n, ok := v.(int64)
	return ok && n == screen.StatusIn
}

func acquiring(mem *controlsys.Memory, s simScreen) bool {
	if s.acquire == "" {
		return true
	}
	v, _ := mem.Value(s.acquire)
	on, ok := v.(bool)
	return ok && on
}

// beamSpot returns a gaussian spot that drifts slowly across the frame.
func beamSpot(frame int) []float64 {
	cx := float64(simCols)/2 + math.Sin(float64(frame)/5)
	cy := float64(simRows) / 2
	data := make([]float64, simRows*simCols)
	for r := 0; r < simRows; r++ {
		for c := 0; c < simCols; c++ {
			dx, dy := float64(c)-cx, float64(r)-cy
			data[r*simCols+c] = 1000 * math.Exp(-(dx*dx+dy*dy)/4)
		}
	}
	return data
}
