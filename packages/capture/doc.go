// Package capture extracts values from HTTP responses.
//
// A capture source is one of:
//   - "status" for the response status code
//   - "duration" for the round trip in milliseconds
//   - "header.<Name>" for a response header
//   - "body" for the whole body
//   - anything else, read as a gjson path into a JSON body
//     (an optional "body." prefix is ignored)
//
// Captured values are reported in the status information of the entry
// that produced them.
package capture
