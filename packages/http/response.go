package http

import (
	"strconv"
	"strings"
	"time"
)

// Status information keys reported for every completed request.
const (
	InfoStatus     = "status"
	InfoStatusCode = "statusCode"
	InfoTime       = "time"
	InfoSize       = "size"
)

type Response struct {
	StatusCode int
	Status     string
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

// Header looks a header up case-insensitively.
func (r *Response) Header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType(), "json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// StatusInfo summarizes the response as string key/value pairs.
func (r *Response) StatusInfo() map[string]string {
	return map[string]string{
		InfoStatus:     r.Status,
		InfoStatusCode: strconv.Itoa(r.StatusCode),
		InfoTime:       strconv.FormatInt(r.DurationMs(), 10) + "ms",
		InfoSize:       strconv.Itoa(len(r.Body)) + "B",
	}
}
