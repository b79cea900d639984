package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/sse"
)

// handleStreamEvents streams a run's events as SSE. Every subscriber gets
// the full backlog first, then live events, then a done event once the
// run has finished. Each event's id is its 1-based position in the run;
// a Last-Event-ID header resumes after that position.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	after, _ := strconv.Atoi(r.Header.Get("Last-Event-ID"))

	res, live := s.runs.get(id)
	var recorded []testrun.Event
	if !live {
		var err error
		_, recorded, err = s.lookupHistory(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.WithError(err).Debug("set write deadline for SSE")
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	seq := 0
	send := func(ev testrun.Event) error {
		seq++
		if seq <= after {
			return nil
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return sw.Send(sse.Event{ID: strconv.Itoa(seq), Type: sse.EventResult, Data: string(data)})
	}

	if !live {
		for _, ev := range recorded {
			if send(ev) != nil {
				return
			}
		}
		_ = sw.Send(sse.Event{Type: sse.EventDone, Data: "{}"})
		return
	}

	ch := res.Subscribe(r.Context())
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if r.Context().Err() != nil {
					return // Client disconnected.
				}
				summary := testrun.Summarize(res.Events())
				data, _ := json.Marshal(map[string]int{
					"started":   summary.Started,
					"succeeded": summary.Succeeded,
					"failed":    summary.Failed,
				})
				_ = sw.Send(sse.Event{Type: sse.EventDone, Data: string(data)})
				return
			}
			if send(ev) != nil {
				return // Write failed (e.g. client gone).
			}
		case <-ticker.C:
			if sw.Comment("keep-alive") != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
