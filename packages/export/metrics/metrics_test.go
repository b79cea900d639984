package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

type fakeRequest string

func (r fakeRequest) RequestID() string   { return string(r) }
func (r fakeRequest) DisplayName() string { return string(r) }

func scrape(t *testing.T, rec *Recorder) string {
	t.Helper()
	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_ObservesRuns(t *testing.T) {
	rec := NewRecorder()
	resolver := testrun.ResolverFunc(func(id string) (testrun.Request, bool) { return fakeRequest(id), true })
	executor := testrun.ExecutorFunc(func(_ context.Context, r testrun.Request, _ *env.Environment) (testrun.Handle, error) {
		if r.RequestID() == "bad" {
			return nil, errors.New("boom")
		}
		return testrun.Completed(map[string]string{}, nil), nil
	})
	engine := testrun.NewEngine(resolver, executor, testrun.WithObserver(rec))

	res, err := engine.Run(context.Background(), &testrun.Spec{
		Entries: []testrun.EntryRef{{RequestID: "ok"}, {RequestID: "bad"}},
	}, testrun.Hooks{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, res.Wait(ctx))

	// RunFinished fires right after the stream closes.
	require.Eventually(t, func() bool {
		return containsAll(scrape(t, rec),
			"hitsuite_runs_in_flight 0",
			"hitsuite_run_duration_seconds_count 1",
		)
	}, 2*time.Second, 10*time.Millisecond)

	body := scrape(t, rec)
	assert.Contains(t, body, "hitsuite_runs_total 1")
	assert.Contains(t, body, `hitsuite_events_total{state="STARTED"} 2`)
	assert.Contains(t, body, `hitsuite_events_total{state="SUCCEEDED"} 1`)
	assert.Contains(t, body, `hitsuite_events_total{state="FAILED"} 1`)
	assert.Contains(t, body, `hitsuite_entry_duration_seconds_count{state="FAILED"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestRecorder_Middleware(t *testing.T) {
	rec := NewRecorder()
	r := chi.NewRouter()
	r.Use(rec.Middleware)
	r.Get("/v1/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, id := range []string{"a", "b"} {
		resp, err := http.Get(srv.URL + "/v1/runs/" + id)
		require.NoError(t, err)
		resp.Body.Close()
	}

	body := scrape(t, rec)
	assert.Contains(t, body, `hitsuite_http_requests_total{method="GET",path="/v1/runs/{id}",status="404"} 2`)
}

func TestRecorders_AreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RunStarted(nil)

	assert.Contains(t, scrape(t, a), "hitsuite_runs_total 1")
	assert.Contains(t, scrape(t, b), "hitsuite_runs_total 0")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
