// Package history keeps finished and running test runs in SQLite.
//
// A Store attaches to a run after it has started and still sees every
// event, because run streams replay their backlog to late subscribers.
package history
