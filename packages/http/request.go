package http

import (
	"encoding/base64"
	"net/url"
	"time"
)

// Request is a fully rendered HTTP request.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string]string
	Body        string
	Timeout     time.Duration
}

func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:      method,
		URL:         requestURL,
		Headers:     make(map[string]string),
		QueryParams: make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

func (r *Request) SetTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams[key] = value
	return r
}

// SetBasicAuth sets an Authorization header with basic credentials.
func (r *Request) SetBasicAuth(username, password string) *Request {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return r.SetHeader("Authorization", "Basic "+creds)
}

func (r *Request) SetBearerToken(token string) *Request {
	return r.SetHeader("Authorization", "Bearer "+token)
}

// BuildURL returns URL with QueryParams merged into its query string.
func (r *Request) BuildURL() string {
	if len(r.QueryParams) == 0 {
		return r.URL
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for k, v := range r.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
