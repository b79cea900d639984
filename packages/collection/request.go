package collection

import (
	"net/http"
	"slices"
	"time"
)

// Auth types understood by the request executor.
const (
	AuthBasic       = "basic"
	AuthBearer      = "bearer"
	AuthAPIKey      = "apiKey"
	AuthAPIKeyQuery = "apiKeyQuery"
)

// Auth describes how a request authenticates. Every field may contain
// {{...}} references.
type Auth struct {
	Type     string `yaml:"type" json:"type"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
	Key      string `yaml:"key,omitempty" json:"key,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Request is a saved request descriptor. It implements testrun.Request.
type Request struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Method       string            `yaml:"method,omitempty" json:"method,omitempty"`
	URL          string            `yaml:"url" json:"url"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query        map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Body         string            `yaml:"body,omitempty" json:"body,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Auth         *Auth             `yaml:"auth,omitempty" json:"auth,omitempty"`
	ExpectStatus []int             `yaml:"expectStatus,omitempty" json:"expectStatus,omitempty"`
	// Captures maps a capture name to its source: "status", "duration",
	// "header.<Name>" or a gjson path into the response body.
	Captures   map[string]string `yaml:"captures,omitempty" json:"captures,omitempty"`
	Retry      int               `yaml:"retry,omitempty" json:"retry,omitempty"`
	RetryDelay time.Duration     `yaml:"retryDelay,omitempty" json:"retryDelay,omitempty"`
	RetryOn    []int             `yaml:"retryOn,omitempty" json:"retryOn,omitempty"`
}

func (r *Request) RequestID() string { return r.ID }

// DisplayName returns the request's name, or "METHOD url" when it has none.
func (r *Request) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.HTTPMethod() + " " + r.URL
}

// HTTPMethod returns the method, defaulting to GET.
func (r *Request) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// StatusAccepted reports whether code satisfies the request's expectation.
// Without explicit expectations any 2xx status is accepted.
func (r *Request) StatusAccepted(code int) bool {
	if len(r.ExpectStatus) == 0 {
		return code >= 200 && code < 300
	}
	return slices.Contains(r.ExpectStatus, code)
}

// ShouldRetry reports whether a response with the given status may be
// retried. Without RetryOn every failure is retried.
func (r *Request) ShouldRetry(code int) bool {
	if len(r.RetryOn) == 0 {
		return true
	}
	return slices.Contains(r.RetryOn, code)
}

func (r *Request) clone() *Request {
	c := *r
	c.Headers = cloneMap(r.Headers)
	c.Query = cloneMap(r.Query)
	c.Captures = cloneMap(r.Captures)
	c.ExpectStatus = slices.Clone(r.ExpectStatus)
	c.RetryOn = slices.Clone(r.RetryOn)
	if r.Auth != nil {
		a := *r.Auth
		c.Auth = &a
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
