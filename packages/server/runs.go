package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/abdul-hamid-achik/hitsuite/packages/notify"
)

// startTestRequest is the optional JSON body for POST /v1/tests/{name}/runs.
// Overrides are applied after the test's own, so they win on conflicts.
type startTestRequest struct {
	EnvironmentOverrides []env.Variable `json:"environmentOverrides"`
	StopOnFirstFailure   *bool          `json:"stopOnFirstFailure"`
}

// runResponse describes a run. Events are omitted from listings.
type runResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	StartedAt   time.Time       `json:"startedAt"`
	Finished    bool            `json:"finished"`
	Started     int             `json:"started"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Events      []testrun.Event `json:"events,omitempty"`
	EventsURL   string          `json:"eventsUrl"`
	FromHistory bool            `json:"fromHistory,omitempty"`
}

func newRunResponse(res *testrun.Result, withEvents bool) runResponse {
	events := res.Events()
	summary := testrun.Summarize(events)
	resp := runResponse{
		ID:        res.ID,
		Name:      res.Name,
		StartedAt: res.StartedAt,
		Finished:  res.Closed(),
		Started:   summary.Started,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		EventsURL: "/v1/runs/" + res.ID + "/events",
	}
	if withEvents {
		resp.Events = events
	}
	return resp
}

func historyRunResponse(run history.Run, events []testrun.Event) runResponse {
	return runResponse{
		ID:          run.ID,
		Name:        run.Name,
		StartedAt:   run.StartedAt,
		Finished:    run.Finished(),
		Started:     run.Started,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		Events:      events,
		EventsURL:   "/v1/runs/" + run.ID + "/events",
		FromHistory: true,
	}
}

type testResponse struct {
	Name               string             `json:"name"`
	Entries            []testrun.EntryRef `json:"entries"`
	StopOnFirstFailure bool               `json:"stopOnFirstFailure"`
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	specs := s.collection.Tests()
	out := make([]testResponse, 0, len(specs))
	for _, spec := range specs {
		out = append(out, testResponse{
			Name:               spec.Name,
			Entries:            spec.Entries,
			StopOnFirstFailure: spec.StopOnFirstFailure,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tests": out})
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	spec, err := s.collection.Test(name)
	if errors.Is(err, collection.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req startTestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	spec.EnvironmentOverrides = append(spec.EnvironmentOverrides, req.EnvironmentOverrides...)
	if req.StopOnFirstFailure != nil {
		spec.StopOnFirstFailure = *req.StopOnFirstFailure
	}

	s.start(w, spec)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var spec testrun.Spec
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.start(w, &spec)
}

func (s *Server) start(w http.ResponseWriter, spec *testrun.Spec) {
	res, err := s.StartRun(spec)
	if errors.Is(err, testrun.ErrInvalidSpec) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("start run")
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	w.Header().Set("Location", "/v1/runs/"+res.ID)
	s.writeJSON(w, http.StatusAccepted, newRunResponse(res, false))
}

// StartRun starts spec on the server's engine and tracks it. The run is
// independent of any request context; it ends on its own, on cancel or
// when the server shuts down.
func (s *Server) StartRun(spec *testrun.Spec) (*testrun.Result, error) {
	res, err := s.engine.Run(s.baseCtx, spec, testrun.Hooks{
		OnRunStarted:  func() { s.inFlight.Add(1) },
		OnRunFinished: func() { s.inFlight.Add(-1) },
	})
	if err != nil {
		return nil, err
	}
	s.runs.add(res)

	log := s.logger.WithFields(logrus.Fields{"run_id": res.ID, "test": res.Name})
	log.Info("run started")

	if s.history != nil {
		go func() {
			if err := s.history.Record(context.Background(), res); err != nil {
				log.WithError(err).Error("recording run history")
			}
		}()
	}
	go s.finish(res, log)
	return res, nil
}

func (s *Server) finish(res *testrun.Result, log logrus.FieldLogger) {
	_ = res.Wait(context.Background())
	summary := testrun.Summarize(res.Events())
	log.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("run finished")

	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, notify.NewRunSummary(res.ID, res.Name, s.envName, summary)); err != nil {
		log.WithError(err).Warn("notification failed")
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.list()
	out := make([]runResponse, 0, len(runs))
	for _, res := range runs {
		out = append(out, newRunResponse(res, false))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res, ok := s.runs.get(id); ok {
		s.writeJSON(w, http.StatusOK, newRunResponse(res, true))
		return
	}

	run, events, err := s.lookupHistory(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, historyRunResponse(run, events))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := s.runs.get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	res.Cancel()
	s.logger.WithField("run_id", id).Info("run cancelled")
	s.writeJSON(w, http.StatusAccepted, newRunResponse(res, false))
}

var errNoHistory = errors.New("run not found")

// lookupHistory finds a run that is no longer held in memory.
func (s *Server) lookupHistory(ctx context.Context, id string) (history.Run, []testrun.Event, error) {
	if s.history == nil {
		return history.Run{}, nil, errNoHistory
	}
	run, err := s.history.Run(ctx, id)
	if err != nil {
		return history.Run{}, nil, err
	}
	events, err := s.history.Events(ctx, id)
	if err != nil {
		return history.Run{}, nil, err
	}
	return run, events, nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoHistory) || errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.WithError(err).Error("get run from history")
	s.writeError(w, http.StatusInternalServerError, "failed to get run")
}
