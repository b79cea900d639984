package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// Output format names accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatJUnit   = "junit"
	FormatTAP     = "tap"
)

// Formatter receives a run's events in emission order and the run's
// summary once the stream has closed.
type Formatter interface {
	FormatHeader(name string)
	FormatEvent(ev testrun.Event)
	Flush(summary testrun.Summary) error
}

// Options configures New.
type Options struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
}

// New returns the formatter for format.
func New(format string, opts Options) (Formatter, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case FormatConsole, "":
		return NewConsoleFormatter(WithWriter(w), WithVerbose(opts.Verbose), WithNoColor(opts.NoColor)), nil
	case FormatJSON:
		return NewJSONFormatter(JSONWithWriter(w)), nil
	case FormatJUnit:
		return NewJUnitFormatter(JUnitWithWriter(w)), nil
	case FormatTAP:
		return NewTAPFormatter(TAPWithWriter(w)), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Consume feeds every event of res to f as it is emitted, then flushes f
// with the run's summary. It returns early with ctx's error if ctx ends
// before the run does.
func Consume(ctx context.Context, res *testrun.Result, f Formatter) (testrun.Summary, error) {
	f.FormatHeader(res.Name)

	var events []testrun.Event
	if err := res.Each(ctx, func(ev testrun.Event) {
		events = append(events, ev)
		f.FormatEvent(ev)
	}); err != nil {
		return testrun.Summary{}, err
	}

	summary := testrun.Summarize(events)
	return summary, f.Flush(summary)
}

// entry is one entry of a run as seen through its events.
type entry struct {
	Index    string
	Name     string
	State    testrun.State
	Details  map[string]string
	Started  time.Time
	Finished time.Time
}

func (e *entry) Duration() time.Duration {
	if e.Started.IsZero() || e.Finished.IsZero() {
		return 0
	}
	return e.Finished.Sub(e.Started)
}

func (e *entry) Passed() bool {
	return e.State == testrun.StateSucceeded
}

func (e *entry) Error() string {
	return e.Details[testrun.DetailException]
}

// collector folds events into entries ordered by their index.
type collector struct {
	entries map[string]*entry
}

func (c *collector) add(ev testrun.Event) *entry {
	if c.entries == nil {
		c.entries = make(map[string]*entry)
	}
	e, ok := c.entries[ev.Index]
	if !ok {
		e = &entry{Index: ev.Index, Name: ev.Name}
		c.entries[ev.Index] = e
	}
	e.State = ev.State
	e.Details = ev.Details
	if ev.State == testrun.StateStarted {
		e.Started = ev.Time
	} else {
		e.Finished = ev.Time
	}
	return e
}

func (c *collector) list() []*entry {
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i].Index)
		b, errB := strconv.Atoi(out[j].Index)
		if errA != nil || errB != nil {
			return out[i].Index < out[j].Index
		}
		return a < b
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
