// Package http sends rendered requests and captures their responses.
//
// The Client wraps net/http with the knobs a test run needs: timeouts,
// redirect policy, TLS validation, proxying, default headers and a cap on
// the retained body size. Every call takes a context so a cancelled run
// aborts its in-flight requests.
package http
