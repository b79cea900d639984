// Package env holds environments and variable resolution for hitsuite.
//
// It provides:
//   - Named environments that can be marked active
//   - The run-scoped override environment built from a test's overrides
//   - {{variable}} interpolation, {{$ENV_VAR}} lookups and builtin calls
//   - Loading .env files for base variables
package env
