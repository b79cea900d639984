// Package cmd implements the hitsuite CLI commands using Cobra.
//
// Available commands:
//   - run: Execute tests of a collection and report their events
//   - validate: Check collection files without executing them
//   - list: Display the tests, requests and environments of a collection
//   - history: List or replay runs recorded in a SQLite database
//   - serve: Expose a collection over HTTP with live event streams
//   - follow: Print the events of a run on a hitsuite server
//   - version: Show hitsuite version information
//
// Flags default from HITSUITE_* environment variables and, for run and
// serve, from the config file; explicit flags win.
package cmd
