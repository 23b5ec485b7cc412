package device

// ChangeKind says what a Change carries.
type ChangeKind int

// Change kinds.
const (
	ChangeValue ChangeKind = iota + 1
	ChangeConnection
	ChangeError
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeValue:
		return "value"
	case ChangeConnection:
		return "connection"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Change is delivered to a monitor callback.
type Change struct {
	Kind     ChangeKind
	Device   string
	Accessor string

	// Value is set for ChangeValue, already converted to the accessor's type.
	Value any

	// Connected is set for ChangeConnection.
	Connected bool

	// Err describes the problem for ChangeError.
	Err string
}
