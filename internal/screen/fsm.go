package screen

import (
	"fmt"
	"maps"

	"github.com/nerrad567/beamline-core/internal/device"
)

// action is anything the screen loop executes: an event fed to transition
// or an effect produced by it.
type action interface {
	actionName() string
}

// Events.

type monitorEvent struct{ change device.Change }

type moveTargetEvent struct{ wantIn bool }

type upstreamStatusEvent struct{ problems map[string]string }

type moveFailedEvent struct {
	wantIn bool
	err    string
}

func (monitorEvent) actionName() string        { return "monitor" }
func (moveTargetEvent) actionName() string     { return "move_target" }
func (upstreamStatusEvent) actionName() string { return "upstream_status" }
func (moveFailedEvent) actionName() string     { return "move_failed" }

// Effects.

type notifyError struct{ err *Error }

type notifyUpdate struct {
	accessor string
	value    any
}

type startUpstreamCheck struct{}

type writeTarget struct{ wantIn bool }

type logNotice struct {
	msg  string
	args []any
}

func (notifyError) actionName() string        { return "notify_error" }
func (notifyUpdate) actionName() string       { return "notify_update" }
func (startUpstreamCheck) actionName() string { return "check_upstream" }
func (writeTarget) actionName() string        { return "write_target" }
func (logNotice) actionName() string          { return "log" }

// transition computes the next state and the effects of ev. It does no I/O.
// An error means the event cannot be handled and the screen must stop.
func transition(name string, s State, ev action) (State, []action, error) {
	switch ev := ev.(type) {
	case monitorEvent:
		return onMonitor(name, s, ev.change)
	case moveTargetEvent:
		next, effects := onMoveTarget(name, s, ev.wantIn)
		return next, effects, nil
	case upstreamStatusEvent:
		next, effects := onUpstreamStatus(name, s, ev.problems)
		return next, effects, nil
	case moveFailedEvent:
		next, effects := onMoveFailed(name, s, ev)
		return next, effects, nil
	default:
		return s, nil, fmt.Errorf("screen %s: unexpected event %s", name, ev.actionName())
	}
}

func onMonitor(name string, s State, c device.Change) (State, []action, error) {
	switch c.Kind {
	case device.ChangeConnection:
		return s, nil, nil
	case device.ChangeError:
		next := s
		if c.Accessor == AccessorTargetStatus {
			next.TargetStatus = Unknown
			next.MoveRequest = nil
		}
		return next, []action{notifyError{&Error{
			Kind:     KindMonitor,
			Device:   name,
			Accessor: c.Accessor,
			Message:  c.Err,
		}}}, nil
	}

	next := s
	switch c.Accessor {
	case AccessorImage:
		return s, []action{notifyUpdate{AccessorImage, c.Value}}, nil
	case AccessorAcquire:
		b, _ := c.Value.(bool)
		next.Acquire = TriOf(b)
		return next, []action{notifyUpdate{AccessorAcquire, b}}, nil
	case AccessorTargetStatus:
		status := statusTri(c.Value)
		next.TargetStatus = status
		// Any status report ends the move, even one that leaves the
		// position unknown, so the operator can always retry.
		next.MoveRequest = nil
		return next, []action{notifyUpdate{AccessorTargetStatus, status.Value()}}, nil
	default:
		return s, nil, fmt.Errorf("%w: %s.%s", ErrUnsupportedAccessor, name, c.Accessor)
	}
}

func onMoveTarget(name string, s State, wantIn bool) (State, []action) {
	if s.MoveRequest != nil {
		return s, []action{notifyError{&Error{
			Kind:    KindFSM,
			Device:  name,
			Message: "target already moving",
		}}}
	}
	if s.TargetStatus.Known() && s.TargetStatus.Bool() == wantIn {
		return s, []action{logNotice{"target already in requested position", []any{"want_in", wantIn}}}
	}

	next := s
	if !wantIn || s.upstreamClear() {
		next.MoveRequest = &MoveRequest{WantIn: wantIn}
		return next, []action{writeTarget{wantIn}}
	}

	next.MoveRequest = &MoveRequest{WantIn: true, AwaitingCheck: true}
	if s.CheckUpstream {
		return next, []action{logNotice{"insert waits for running upstream check", nil}}
	}
	next.CheckUpstream = true
	return next, []action{startUpstreamCheck{}}
}

func onUpstreamStatus(name string, s State, problems map[string]string) (State, []action) {
	next := s
	next.CheckUpstream = false
	next.UpstreamChecked = true
	next.UpstreamProblems = maps.Clone(problems)
	if next.UpstreamProblems == nil {
		next.UpstreamProblems = map[string]string{}
	}

	awaiting := s.MoveRequest != nil && s.MoveRequest.AwaitingCheck

	if len(problems) > 0 {
		if awaiting {
			next.MoveRequest = nil
		}
		return next, []action{notifyError{&Error{
			Kind:     KindUpstream,
			Device:   name,
			Message:  formatProblems(problems),
			Problems: maps.Clone(problems),
		}}}
	}

	if !awaiting {
		return next, []action{logNotice{"upstream clear with no insert pending", nil}}
	}
	next.MoveRequest = &MoveRequest{WantIn: s.MoveRequest.WantIn}
	return next, []action{writeTarget{s.MoveRequest.WantIn}}
}

func onMoveFailed(name string, s State, ev moveFailedEvent) (State, []action) {
	next := s
	if r := s.MoveRequest; r != nil && !r.AwaitingCheck && r.WantIn == ev.wantIn {
		next.MoveRequest = nil
	}
	return next, []action{notifyError{&Error{
		Kind:     KindMonitor,
		Device:   name,
		Accessor: AccessorTargetControl,
		Message:  ev.err,
	}}}
}
