package testrun

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Summary aggregates the events of one run.
type Summary struct {
	Started   int
	Succeeded int
	Failed    int
	// Failures holds the FAILED events in emission order.
	Failures []Event
	// Entries holds one timing per finished entry, in completion order.
	Entries  []EntryTiming
	Duration time.Duration

	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
}

// EntryTiming is how long one entry took from STARTED to its terminal
// event.
type EntryTiming struct {
	Index    string
	Name     string
	State    State
	Duration time.Duration
}

// Passed reports whether every started entry succeeded.
func (s Summary) Passed() bool {
	return s.Failed == 0 && s.Started == s.Succeeded
}

// Summarize counts events and computes per-entry latency from the time
// between each STARTED event and its terminal event.
func Summarize(events []Event) Summary {
	var s Summary
	// Latencies in microseconds, 1us to 10min, 3 significant digits.
	hist := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	started := make(map[string]time.Time)

	var first, last time.Time
	for _, ev := range events {
		if first.IsZero() || ev.Time.Before(first) {
			first = ev.Time
		}
		if ev.Time.After(last) {
			last = ev.Time
		}

		switch ev.State {
		case StateStarted:
			s.Started++
			started[ev.Index] = ev.Time
			continue
		case StateSucceeded:
			s.Succeeded++
		case StateFailed:
			s.Failed++
			s.Failures = append(s.Failures, ev)
		}

		if t, ok := started[ev.Index]; ok {
			d := ev.Time.Sub(t)
			s.Entries = append(s.Entries, EntryTiming{Index: ev.Index, Name: ev.Name, State: ev.State, Duration: d})
			us := d.Microseconds()
			if us < 1 {
				us = 1
			}
			_ = hist.RecordValue(us)
		}
	}

	if !first.IsZero() {
		s.Duration = last.Sub(first)
	}
	if hist.TotalCount() > 0 {
		s.Min = micros(hist.Min())
		s.Max = micros(hist.Max())
		s.Mean = time.Duration(hist.Mean() * float64(time.Microsecond))
		s.P50 = micros(hist.ValueAtQuantile(50))
		s.P95 = micros(hist.ValueAtQuantile(95))
		s.P99 = micros(hist.ValueAtQuantile(99))
	}
	return s
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
