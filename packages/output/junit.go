package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite is one run.
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitError marks an entry that never reached a terminal state.
type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
}

type JUnitFormatter struct {
	writer io.Writer
	name   string
	runs   collector
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) FormatHeader(name string) {
	f.name = name
}

func (f *JUnitFormatter) FormatEvent(ev testrun.Event) {
	f.runs.add(ev)
}

func (f *JUnitFormatter) Flush(s testrun.Summary) error {
	name := f.name
	if name == "" {
		name = "hitsuite"
	}
	now := time.Now().Format(time.RFC3339)

	suite := JUnitTestSuite{
		Name:      name,
		Time:      s.Duration.Seconds(),
		Timestamp: now,
		TestCases: make([]JUnitTestCase, 0),
	}
	for _, e := range f.runs.list() {
		tc := JUnitTestCase{
			Name:      e.Name,
			ClassName: name,
			Time:      e.Duration().Seconds(),
		}
		switch e.State {
		case testrun.StateFailed:
			suite.Failures++
			tc.Failure = &JUnitFailure{
				Message: firstLine(e.Error()),
				Type:    "ExecutionFailure",
				Content: e.Error(),
			}
		case testrun.StateStarted:
			suite.Errors++
			tc.Error = &JUnitError{Message: "entry did not finish", Type: "Incomplete"}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}
	suite.Tests = len(suite.TestCases)

	suites := JUnitTestSuites{
		Name:       "hitsuite",
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Errors:     suite.Errors,
		Time:       suite.Time,
		Timestamp:  now,
		TestSuites: []JUnitTestSuite{suite},
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(suites); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.writer)
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
