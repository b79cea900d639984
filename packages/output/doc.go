// Package output renders test runs.
//
// Supported output formats:
//   - console: one colored line per event as the run progresses
//   - json: machine-readable report written on Flush
//   - junit: JUnit XML for CI integration, written on Flush
//   - tap: Test Anything Protocol, written on Flush
//
// Consume drives any Formatter from a live or finished run.
package output
