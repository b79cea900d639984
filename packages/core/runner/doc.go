// Package runner executes saved collection requests on behalf of the test
// engine.
//
// For every entry the Executor renders the saved request through a fresh
// variable resolver layered as base environment, then the selected
// collection environment, then the run's override environment. The HTTP
// call happens in the background; its handle resolves to the response's
// status information and captured values. A transport error, a status
// outside the request's expectations or a missing capture fails the entry.
// Requests configured with retries are re-sent after a delay while
// attempts remain.
package runner
