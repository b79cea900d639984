package testrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	events := []Event{
		{Index: "0", State: StateStarted, Time: at(0)},
		{Index: "2", State: StateStarted, Time: at(5)},
		{Index: "0", State: StateSucceeded, Time: at(10)},
		{Index: "2", State: StateFailed, Time: at(45), Details: map[string]string{DetailException: "500"}},
	}

	s := Summarize(events)
	assert.Equal(t, 2, s.Started)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.False(t, s.Passed())
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "500", s.Failures[0].Exception())

	assert.Equal(t, 45*time.Millisecond, s.Duration)
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.Min), float64(50*time.Microsecond))
	assert.InDelta(t, float64(40*time.Millisecond), float64(s.Max), float64(100*time.Microsecond))
	assert.InDelta(t, float64(25*time.Millisecond), float64(s.Mean), float64(100*time.Microsecond))
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Started)
	assert.Zero(t, s.Duration)
	assert.Zero(t, s.P99)
	assert.True(t, s.Passed())
}

func TestSummarize_InFlightIsNotPassed(t *testing.T) {
	s := Summarize([]Event{{Index: "0", State: StateStarted, Time: time.Now()}})
	assert.False(t, s.Passed())
}

func TestSpecValidate(t *testing.T) {
	var nilSpec *Spec
	assert.True(t, errors.Is(nilSpec.Validate(), ErrInvalidSpec))

	ok := &Spec{Entries: []EntryRef{{RequestID: "a"}}}
	assert.NoError(t, ok.Validate())

	empty := &Spec{}
	assert.NoError(t, empty.Validate())
}

func TestFuture(t *testing.T) {
	f := Completed(map[string]string{"k": "v"}, nil)
	info, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", info["k"])

	boom := errors.New("boom")
	g := Go(context.Background(), func(ctx context.Context) (map[string]string, error) {
		return nil, boom
	})
	<-g.Done()
	_, err = g.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}
