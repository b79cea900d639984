package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

type recordingNotifier struct {
	mu       sync.Mutex
	received []*RunSummary
	err      error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, s *RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, s)
	return r.err
}

func passing(test string) *RunSummary {
	return &RunSummary{Test: test, Started: 2, Succeeded: 2}
}

func failing(test string) *RunSummary {
	return &RunSummary{Test: test, Started: 2, Succeeded: 1, Failed: 1}
}

func TestManager_Policies(t *testing.T) {
	tests := []struct {
		name     string
		notifyOn NotifyOn
		runs     []*RunSummary
		want     int
	}{
		{name: "always", notifyOn: NotifyAlways, runs: []*RunSummary{passing("a"), failing("a")}, want: 2},
		{name: "failure", notifyOn: NotifyFailure, runs: []*RunSummary{passing("a"), failing("a")}, want: 1},
		{name: "success", notifyOn: NotifySuccess, runs: []*RunSummary{passing("a"), failing("a")}, want: 1},
		{name: "recovery ignores steady success", notifyOn: NotifyRecovery, runs: []*RunSummary{passing("a"), passing("a")}, want: 0},
		{name: "recovery reports failure then recovery", notifyOn: NotifyRecovery, runs: []*RunSummary{failing("a"), passing("a")}, want: 2},
		{name: "recovery is tracked per test", notifyOn: NotifyRecovery, runs: []*RunSummary{failing("a"), passing("b")}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingNotifier{}
			m := NewManager(tt.notifyOn, rec)
			for _, run := range tt.runs {
				require.NoError(t, m.Notify(context.Background(), run))
			}
			assert.Len(t, rec.received, tt.want)
		})
	}
}

func TestManager_MarksRecovery(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(NotifyRecovery, rec)

	require.NoError(t, m.Notify(context.Background(), failing("smoke")))
	require.NoError(t, m.Notify(context.Background(), passing("smoke")))

	require.Len(t, rec.received, 2)
	assert.False(t, rec.received[0].IsRecovery)
	assert.True(t, rec.received[1].IsRecovery)
}

func TestManager_JoinsErrors(t *testing.T) {
	broken := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	m := NewManager(NotifyAlways, broken, ok)

	err := m.Notify(context.Background(), passing("a"))
	assert.ErrorContains(t, err, "recording: down")
	assert.Len(t, ok.received, 1, "later notifiers still run")
}

func TestParseNotifyOn(t *testing.T) {
	n, err := ParseNotifyOn("")
	require.NoError(t, err)
	assert.Equal(t, NotifyFailure, n)

	n, err = ParseNotifyOn("recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, n)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func TestNewRunSummary(t *testing.T) {
	s := testrun.Summary{
		Started:   2,
		Succeeded: 1,
		Failed:    1,
		Duration:  time.Second,
		Failures: []testrun.Event{{
			Index:   "1",
			Name:    "Create pet",
			State:   testrun.StateFailed,
			Details: map[string]string{testrun.DetailException: "boom"},
		}},
	}

	rs := NewRunSummary("run-1", "smoke", "dev", s)
	assert.False(t, rs.Passed())
	assert.Equal(t, []FailedEntry{{Index: "1", Name: "Create pet", Error: "boom"}}, rs.FailedResults)
}

func TestSlackNotifier(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	summary := failing("smoke")
	summary.Environment = "staging"
	summary.FailedResults = []FailedEntry{{Index: "0", Name: "List pets", Error: "unexpected status 500"}}

	n := NewSlackNotifier(server.URL, WithSlackChannel("#ci"))
	require.NoError(t, n.Notify(context.Background(), summary))

	assert.Equal(t, "#ci", got.Channel)
	assert.Equal(t, "hitsuite", got.Username)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "danger", got.Attachments[0].Color)
	assert.Contains(t, got.Attachments[0].Title, "smoke: 1 request(s) failed")
	assert.Contains(t, got.Attachments[0].Text, "List pets")
	assert.Contains(t, got.Attachments[0].Text, "unexpected status 500")
}

func TestSlackNotifier_Recovery(t *testing.T) {
	summary := passing("smoke")
	summary.IsRecovery = true

	msg := NewSlackNotifier("http://unused").message(summary)
	assert.Equal(t, "good", msg.Attachments[0].Color)
	assert.Contains(t, msg.Attachments[0].Title, "recovered")
}

func TestWebhookNotifier(t *testing.T) {
	var got RunSummary
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, WithWebhookHeader("Authorization", "Bearer t"))
	require.NoError(t, n.Notify(context.Background(), failing("smoke")))
	assert.Equal(t, "smoke", got.Test)
	assert.Equal(t, 1, got.Failed)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Notify(context.Background(), passing("a"))
	assert.ErrorContains(t, err, "status 502")
}
