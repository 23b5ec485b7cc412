// Package screen controls a beamline profile monitor: a camera screen whose
// target can be inserted into or retracted from the beam.
//
// # Architecture
//
//	   Screen.MoveTarget ──┐      accessor monitors (acquire, image, target_status)
//	                       ▼                 │
//	           ┌───────────────────────────────────────┐
//	           │        screen action loop             │
//	           │  event ──▶ transition(State) ──▶ effects
//	           │                                 │     │
//	           │   notify handler ◀──────────────┤     │
//	           │   write target_control ◀────────┤     │
//	           │   start upstream check ◀────────┘     │
//	           └───────────────────────────────────────┘
//	                       ▲
//	                       │ upstream status (one result)
//	           ┌───────────────────────────────────────┐
//	           │   upstream checker loop (transient)   │
//	           │   monitors target_status upstream     │
//	           └───────────────────────────────────────┘
//
// All screen state lives in State and changes only inside transition, which
// runs on the screen's action loop. Effects are queued back onto the same
// loop, so handler callbacks, writes and checks execute in order.
//
// # Safety
//
// Inserting the target is written to the control system only after an
// upstream check found every upstream screen out of the beam. Retraction
// never waits for a check. A failed or timed out check abandons the move;
// the caller must request it again.
//
// # Usage
//
//	s, err := screen.Open(ctx, catalog, client, "YAG03", handler, screen.Config{
//	    BeamPath:        "CU_HXR",
//	    UpstreamTimeout: 15 * time.Second,
//	}, screen.Options{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer s.Destroy()
//
//	s.MoveTarget(true) // result arrives through handler
package screen
