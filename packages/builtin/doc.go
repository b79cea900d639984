// Package builtin provides the template functions available inside
// {{...}} references of saved requests.
//
// Available functions:
//   - uuid(): random UUID v4
//   - now(): current UTC time, RFC 3339
//   - timestamp(), timestampMs(): Unix time in seconds / milliseconds
//   - randomInt(min, max): random integer in [min, max]
//   - base64(value): standard base64 encoding
//   - urlEncode(value): query escaping
package builtin
