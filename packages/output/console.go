package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// ConsoleFormatter prints each event as it arrives.
type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	started map[string]time.Time

	green  func(a ...any) string
	red    func(a ...any) string
	yellow func(a ...any) string
	cyan   func(a ...any) string
	bold   func(a ...any) string
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer:  os.Stdout,
		started: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(f)
	}

	paint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if f.noColor {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	f.green = paint(color.FgGreen)
	f.red = paint(color.FgRed)
	f.yellow = paint(color.FgYellow)
	f.cyan = paint(color.FgCyan)
	f.bold = paint(color.Bold)
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithVerbose also prints STARTED events and the status information of
// successful entries.
func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatHeader(name string) {
	if name == "" {
		name = "ad-hoc run"
	}
	fmt.Fprintf(f.writer, "\n%s\n\n", f.bold("Running: "+name))
}

func (f *ConsoleFormatter) FormatEvent(ev testrun.Event) {
	switch ev.State {
	case testrun.StateStarted:
		f.started[ev.Index] = ev.Time
		if f.verbose {
			fmt.Fprintf(f.writer, "  %s %s %s\n", f.yellow("…"), ev.Name, f.cyan("#"+ev.Index))
		}
	case testrun.StateSucceeded:
		fmt.Fprintf(f.writer, "  %s %s %s\n", f.green("✓"), ev.Name, f.cyan(f.elapsed(ev)))
		if f.verbose {
			for _, k := range sortedKeys(ev.Details) {
				fmt.Fprintf(f.writer, "      %s = %s\n", k, ev.Details[k])
			}
		}
	case testrun.StateFailed:
		fmt.Fprintf(f.writer, "  %s %s %s\n", f.red("✗"), ev.Name, f.cyan(f.elapsed(ev)))
		fmt.Fprintf(f.writer, "    %s %s\n", f.red("→"), ev.Exception())
	}
}

func (f *ConsoleFormatter) elapsed(ev testrun.Event) string {
	start, ok := f.started[ev.Index]
	if !ok {
		return ""
	}
	return fmt.Sprintf("(%dms)", ev.Time.Sub(start).Milliseconds())
}

func (f *ConsoleFormatter) Flush(s testrun.Summary) error {
	fmt.Fprintf(f.writer, "\nTests:   ")
	if s.Succeeded > 0 {
		fmt.Fprintf(f.writer, "%s, ", f.green(fmt.Sprintf("%d passed", s.Succeeded)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", f.red(fmt.Sprintf("%d failed", s.Failed)))
	}
	if pending := s.Started - s.Succeeded - s.Failed; pending > 0 {
		fmt.Fprintf(f.writer, "%s, ", f.yellow(fmt.Sprintf("%d unfinished", pending)))
	}
	fmt.Fprintf(f.writer, "%d total\n", s.Started)
	fmt.Fprintf(f.writer, "Time:    %dms\n", s.Duration.Milliseconds())
	if s.Started > 0 {
		fmt.Fprintf(f.writer, "Latency: p50 %s  p95 %s  p99 %s  max %s\n",
			ms(s.P50), ms(s.P95), ms(s.P99), ms(s.Max))
	}
	fmt.Fprintln(f.writer)
	return nil
}

// FormatError prints err in the console's style.
func (f *ConsoleFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "%s %v\n", f.red("Error:"), err)
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}
