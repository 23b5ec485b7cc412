package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementScreenUpdate = "screen_update"
	MeasurementScreenError  = "screen_error"
	MeasurementMoveRequest  = "move_request"
)

// WriteScreenUpdate records an accessor value reported by a screen.
// Values other than bool, integers and floats (images) are not stored;
// the return value reports whether a point was queued.
//
// Example:
//
//	client.WriteScreenUpdate("YAG03", "target_status", true)
func (c *Client) WriteScreenUpdate(device, accessor string, value any) bool {
	if !c.IsConnected() {
		return false
	}
	point, ok := ScreenUpdatePoint(device, accessor, value, time.Now())
	if !ok {
		return false
	}
	c.writeAPI.WritePoint(point)
	return true
}

// WriteScreenError records an error surfaced by a screen.
func (c *Client) WriteScreenError(device, kind, accessor, message string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ScreenErrorPoint(device, kind, accessor, message, time.Now()))
}

// WriteMoveRequest records a target move requested through the API.
func (c *Client) WriteMoveRequest(device string, wantIn bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(MoveRequestPoint(device, wantIn, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// ScreenUpdatePoint builds the point for an accessor update. A nil value
// (unknown target status) is stored as known=false.
func ScreenUpdatePoint(device, accessor string, value any, ts time.Time) (*write.Point, bool) {
	fields := map[string]any{}
	switch v := value.(type) {
	case nil:
		fields["known"] = false
	case bool, int, int32, int64, float32, float64:
		fields["value"] = v
		fields["known"] = true
	default:
		return nil, false
	}

	return write.NewPoint(
		MeasurementScreenUpdate,
		map[string]string{"device": device, "accessor": accessor},
		fields,
		ts,
	), true
}

// ScreenErrorPoint builds the point for a screen error.
func ScreenErrorPoint(device, kind, accessor, message string, ts time.Time) *write.Point {
	tags := map[string]string{"device": device, "kind": kind}
	if accessor != "" {
		tags["accessor"] = accessor
	}
	return write.NewPoint(MeasurementScreenError, tags, map[string]any{"message": message}, ts)
}

// MoveRequestPoint builds the point for a move request.
func MoveRequestPoint(device string, wantIn bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMoveRequest,
		map[string]string{"device": device},
		map[string]any{"want_in": wantIn},
		ts,
	)
}
