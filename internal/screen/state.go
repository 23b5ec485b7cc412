package screen

// Raw target_status values and target_control commands.
const (
	StatusIn  = 2
	StatusOut = 1

	ControlIn  = 1
	ControlOut = 0
)

// Accessor names the screen uses.
const (
	AccessorAcquire       = "acquire"
	AccessorImage         = "image"
	AccessorTargetStatus  = "target_status"
	AccessorTargetControl = "target_control"
)

// Reasons recorded by the upstream checker.
const (
	ReasonBlocking    = "upstream target is in"
	ReasonTimeout     = "upstream target status accessor timed out"
	ReasonErrorPrefix = "upstream target error: "
)

// Tri is a boolean that may be unknown.
type Tri int8

// Tri values.
const (
	Unknown Tri = iota
	False
	True
)

// TriOf converts b.
func TriOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Known reports whether t is True or False.
func (t Tri) Known() bool { return t != Unknown }

// Bool returns true only for True.
func (t Tri) Bool() bool { return t == True }

// Value returns nil, false or true.
func (t Tri) Value() any {
	if !t.Known() {
		return nil
	}
	return t.Bool()
}

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// statusTri maps a raw target_status value to in (True), out (False) or Unknown.
func statusTri(raw any) Tri {
	var n float64
	switch v := raw.(type) {
	case int64:
		n = float64(v)
	case int:
		n = float64(v)
	case float64:
		n = v
	default:
		return Unknown
	}
	switch n {
	case StatusIn:
		return True
	case StatusOut:
		return False
	default:
		return Unknown
	}
}

// controlValue is the target_control command for a move.
func controlValue(wantIn bool) int {
	if wantIn {
		return ControlIn
	}
	return ControlOut
}

// MoveRequest is a pending target move.
type MoveRequest struct {
	WantIn bool

	// AwaitingCheck is true while the move waits for an upstream result.
	AwaitingCheck bool
}

// State is everything the screen knows. It is only read and replaced on
// the screen's loop.
type State struct {
	Acquire      Tri
	TargetStatus Tri

	// MoveRequest is non-nil exactly while a move is pending.
	MoveRequest *MoveRequest

	// CheckUpstream is true while an upstream checker runs.
	CheckUpstream bool

	// UpstreamChecked is false until the first upstream result.
	UpstreamChecked bool

	// UpstreamProblems is the last result; empty means clear.
	UpstreamProblems map[string]string
}

// initialState returns the state of a new screen. A screen with nothing
// upstream starts with a clear upstream verdict.
func initialState(hasUpstream bool) State {
	s := State{}
	if !hasUpstream {
		s.UpstreamChecked = true
		s.UpstreamProblems = map[string]string{}
	}
	return s
}

// upstreamClear reports whether an insert may be written without a check.
func (s State) upstreamClear() bool {
	return s.UpstreamChecked && len(s.UpstreamProblems) == 0 && !s.CheckUpstream
}
