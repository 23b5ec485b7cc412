// Package events fans screen updates and errors out to observers.
//
// A Dispatcher hands each screen its own screen.Handler. Every callback
// becomes an Event published to all registered sinks:
//
//	screen loop ──▶ Dispatcher ──┬──▶ LogSink      (structured log)
//	                             ├──▶ MQTTSink     (<prefix>/screen/<device>/..., own goroutine)
//	                             ├──▶ InfluxSink   (history points)
//	                             └──▶ api.Hub      (websocket clients)
//
// Sinks are called on the screen's loop goroutine and must not block.
// Sinks that do I/O (MQTTSink, audit.Recorder) queue events for their own
// goroutine and drop them when the queue is full.
//
// Dispatcher.MoveRequested publishes a KindMoveRequest event when the API
// hands a move to a screen. It is a request, not an accepted move; a
// screen that refuses it reports a KindFSM error.
package events
