// Package testrun executes test specifications: ordered lists of saved
// request references run against a shared worker pool.
//
// A run reports its progress as a stream of events. Every dispatched entry
// produces a STARTED event followed by exactly one SUCCEEDED or FAILED
// event. Skipped entries and entries whose request no longer resolves
// produce nothing. The stream keeps its full history, so consumers that
// subscribe late still see every event, in emission order, before the
// live tail.
//
// Execution failures are data, not errors: Engine.Run only fails when the
// specification itself is malformed, and it does so before any event or
// lifecycle hook fires.
package testrun
