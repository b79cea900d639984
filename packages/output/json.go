package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

type JSONOutput struct {
	Name     string      `json:"name,omitempty"`
	Summary  JSONSummary `json:"summary"`
	Tests    []JSONTest  `json:"tests"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

type JSONSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	// Latency percentiles in milliseconds.
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type JSONTest struct {
	Index    string            `json:"index"`
	Name     string            `json:"name"`
	State    testrun.State     `json:"state"`
	Passed   bool              `json:"passed"`
	Duration float64           `json:"duration"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// JSONFormatter writes one JSON document per run on Flush.
type JSONFormatter struct {
	writer io.Writer
	name   string
	runs   collector
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatHeader(name string) {
	f.name = name
}

func (f *JSONFormatter) FormatEvent(ev testrun.Event) {
	f.runs.add(ev)
}

func (f *JSONFormatter) Flush(s testrun.Summary) error {
	out := JSONOutput{
		Name: f.name,
		Summary: JSONSummary{
			Total:  s.Started,
			Passed: s.Succeeded,
			Failed: s.Failed,
			P50:    millis(s.P50),
			P95:    millis(s.P95),
			P99:    millis(s.P99),
		},
		Tests:    make([]JSONTest, 0),
		Duration: millis(s.Duration),
		Time:     time.Now().Format(time.RFC3339),
	}

	for _, e := range f.runs.list() {
		t := JSONTest{
			Index:    e.Index,
			Name:     e.Name,
			State:    e.State,
			Passed:   e.Passed(),
			Duration: millis(e.Duration()),
			Error:    e.Error(),
		}
		if e.Passed() && len(e.Details) > 0 {
			t.Details = e.Details
		}
		out.Tests = append(out.Tests, t)
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
