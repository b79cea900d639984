// Package sse speaks the text/event-stream format on both ends: Writer
// emits events from an HTTP handler and Client consumes them.
//
// Run events travel as "result" events whose data is the JSON encoding of
// a testrun.Event and whose id is the event's position in the run. A final
// "done" event marks the end of the run.
package sse
