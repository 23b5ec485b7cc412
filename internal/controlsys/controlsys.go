package controlsys

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoValue is returned by Get when the address has never had a value.
	ErrNoValue = errors.New("controlsys: no value")

	// ErrDisconnected is returned when the channel is not connected.
	ErrDisconnected = errors.New("controlsys: disconnected")

	// ErrPutRejected is returned when the control system answers a write
	// with anything other than StatusNormal.
	ErrPutRejected = errors.New("controlsys: put rejected")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("controlsys: channel closed")
)

// StatusNormal is the write status meaning success.
const StatusNormal = 1

// Client opens channels on control-system addresses.
type Client interface {
	// Open creates a channel for address. A nil monitor opens the channel
	// for Get/Put only.
	Open(address string, monitor *Monitor) (Channel, error)
}

// Channel is one open connection to a process variable.
type Channel interface {
	Get(ctx context.Context) (any, error)
	Put(ctx context.Context, value any) error
	Connected() bool
	// Close stops callbacks and releases the address. Idempotent.
	Close() error
}

// Monitor receives updates for a channel. Callbacks run on the channel's
// own goroutine, one at a time, and must not block.
type Monitor struct {
	// OnValue receives each new value. A nil value means the control
	// system reported an update without a value.
	OnValue func(value any)

	// OnConnection receives connection state changes. The first call
	// after Open reports the initial state.
	OnConnection func(connected bool)
}

func (m *Monitor) value(v any) {
	if m != nil && m.OnValue != nil {
		m.OnValue(v)
	}
}

func (m *Monitor) connection(c bool) {
	if m != nil && m.OnConnection != nil {
		m.OnConnection(c)
	}
}

// ValueType is the declared type of an accessor.
type ValueType string

// Value types stored in the device catalog.
const (
	TypeBool  ValueType = "bool"
	TypeInt   ValueType = "int"
	TypeFloat ValueType = "float"
	TypeArray ValueType = "array"
)

// ParseValueType converts a catalog string to a ValueType.
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(s); t {
	case TypeBool, TypeInt, TypeFloat, TypeArray:
		return t, nil
	default:
		return "", fmt.Errorf("controlsys: unknown value type %q", s)
	}
}

// Scalar reports whether values of this type can be written.
func (t ValueType) Scalar() bool {
	return t == TypeBool || t == TypeInt || t == TypeFloat
}

// Image is a camera frame in row-major order.
type Image struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// At returns the pixel at row r, column c.
func (i Image) At(r, c int) float64 {
	return i.Data[r*i.Cols+c]
}

// normalize converts decoded values to the package's value set.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]float64, 0, len(x))
		for _, e := range x {
			switch n := normalize(e).(type) {
			case float64:
				out = append(out, n)
			case int64:
				out = append(out, float64(n))
			case bool:
				if n {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		}
		return out
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out
	default:
		return v
	}
}
