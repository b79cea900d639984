package capture

import (
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/hitsuite/packages/http"
)

const (
	SourceStatus   = "status"
	SourceDuration = "duration"
	SourceBody     = "body"
	headerPrefix   = "header."
	bodyPrefix     = "body."
)

type Extractor struct {
	response *http.Response
	bodyJSON gjson.Result
	isJSON   bool
}

func NewExtractor(resp *http.Response) *Extractor {
	e := &Extractor{response: resp}
	if resp.IsJSON() || gjson.ValidBytes(resp.Body) {
		e.bodyJSON = gjson.ParseBytes(resp.Body)
		e.isJSON = true
	}
	return e
}

// Extract reads source from the response. Objects and arrays are returned
// as raw JSON.
func (e *Extractor) Extract(source string) (string, bool) {
	source = strings.TrimSpace(source)
	switch {
	case source == SourceStatus:
		return strconv.Itoa(e.response.StatusCode), true
	case source == SourceDuration:
		return strconv.FormatInt(e.response.DurationMs(), 10), true
	case source == SourceBody:
		return e.response.BodyString(), true
	case strings.HasPrefix(source, headerPrefix):
		return e.extractFromHeader(strings.TrimPrefix(source, headerPrefix))
	default:
		return e.extractFromBody(strings.TrimPrefix(source, bodyPrefix))
	}
}

func (e *Extractor) extractFromBody(path string) (string, bool) {
	if !e.isJSON || path == "" {
		return "", false
	}
	result := e.bodyJSON.Get(path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func (e *Extractor) extractFromHeader(name string) (string, bool) {
	value := e.response.Header(name)
	if value == "" {
		return "", false
	}
	return value, true
}

// ExtractAll evaluates every capture. Names whose source yields nothing are
// returned in missing, sorted.
func ExtractAll(resp *http.Response, captures map[string]string) (values map[string]string, missing []string) {
	extractor := NewExtractor(resp)
	values = make(map[string]string, len(captures))

	for name, source := range captures {
		if v, ok := extractor.Extract(source); ok {
			values[name] = v
		} else {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return values, missing
}
