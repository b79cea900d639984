// Package server exposes a collection over HTTP: tests can be listed and
// started, runs inspected or cancelled, and each run's events followed
// live as a server-sent event stream that replays from the beginning for
// late subscribers.
package server
