// Package actionloop runs an owner's actions one at a time on a dedicated
// goroutine.
//
// A Loop serializes every state change of its owner (a screen, or an
// upstream check) so the owner's state needs no locking. Actions are
// queued from any goroutine with Action, which never blocks, and executed
// strictly in FIFO order by the owner's Handler.
//
// # Lifecycle
//
//	loop := actionloop.New[myAction](owner, actionloop.Options{
//	    Name:        "screen YAG01",
//	    IdleTimeout: 0, // never time out
//	})
//	loop.Action(startAction{})
//	...
//	loop.Destroy() // idempotent, non-blocking
//	<-loop.Done()  // Cleanup has run
//
// A handler ends the loop by returning End. A handler error or panic is
// logged and ends the loop; nothing is retried. However the loop ends,
// queued actions are discarded and the owner's Cleanup runs exactly once
// on the loop goroutine, after the last action.
package actionloop
