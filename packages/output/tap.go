package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// TAPFormatter writes a TAP version 13 stream on Flush.
type TAPFormatter struct {
	writer io.Writer
	runs   collector
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatHeader(string) {}

func (f *TAPFormatter) FormatEvent(ev testrun.Event) {
	f.runs.add(ev)
}

func (f *TAPFormatter) Flush(testrun.Summary) error {
	entries := f.runs.list()

	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", len(entries))

	for i, e := range entries {
		n := i + 1
		switch e.State {
		case testrun.StateSucceeded:
			fmt.Fprintf(f.writer, "ok %d - %s\n", n, e.Name)
		case testrun.StateFailed:
			fmt.Fprintf(f.writer, "not ok %d - %s\n", n, e.Name)
			fmt.Fprintf(f.writer, "  ---\n")
			fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(e.Error()))
			fmt.Fprintf(f.writer, "  index: %s\n", e.Index)
			fmt.Fprintf(f.writer, "  ...\n")
		default:
			fmt.Fprintf(f.writer, "not ok %d - %s (did not finish)\n", n, e.Name)
		}
	}

	_, err := fmt.Fprintln(f.writer)
	return err
}

func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return "\"" + s + "\""
	}
	return s
}
