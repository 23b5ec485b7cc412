package device

import (
	"fmt"
	"math"

	"github.com/nerrad567/beamline-core/internal/controlsys"
)

// coerce converts value for a write to an accessor of type t.
func coerce(t controlsys.ValueType, value any) (any, error) {
	switch t {
	case controlsys.TypeBool:
		return toBool(value)
	case controlsys.TypeInt:
		return toInt(value)
	case controlsys.TypeFloat:
		return toFloat(value)
	default:
		return nil, fmt.Errorf("unhandled type %s", t)
	}
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return truncate(float64(x))
	case float64:
		return truncate(x)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func truncate(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("cannot convert %v to int", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	default:
		i, err := toInt(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", v)
		}
		return float64(i), nil
	}
}
