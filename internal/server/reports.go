package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wesm/chatlens/internal/report"
	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

// reportHeartbeat keeps proxies from closing an idle report stream
// while the worker is between progress updates.
const reportHeartbeat = 15 * time.Second

// handleAnnualReport streams an annual report over SSE: progress
// events while the report computes, then exactly one result or
// error event.
func (s *Server) handleAnnualReport(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.reportOptions(w, r)
	if !ok {
		return
	}
	run := s.runner.Annual(r.Context(), opts)
	s.streamRun(w, r, run, func(out report.Outcome) any {
		return out.Annual
	})
}

// handleDualReport streams a pairwise report for one session.
func (s *Server) handleDualReport(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	opts, ok := s.reportOptions(w, r)
	if !ok {
		return
	}
	run := s.runner.Dual(r.Context(), sessionID, opts)
	s.streamRun(w, r, run, func(out report.Outcome) any {
		return out.Dual
	})
}

// reportOptions builds report.Options from the request and server
// configuration. Writes the error response itself on failure.
func (s *Server) reportOptions(w http.ResponseWriter, r *http.Request) (report.Options, bool) {
	year, err := parseYear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return report.Options{}, false
	}
	return report.Options{
		Year:        year,
		Timezone:    timeutil.Location(s.cfg.Timezone),
		BatchSize:   s.cfg.BatchSize,
		ScanRangeLo: s.cfg.ScanRangeLo,
		ScanRangeHi: s.cfg.ScanRangeHi,
	}, true
}

// streamRun relays a run's progress and terminal outcome as SSE
// events. extract picks the report payload out of the outcome.
func (s *Server) streamRun(
	w http.ResponseWriter, r *http.Request,
	run *report.Run, extract func(report.Outcome) any,
) {
	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	heartbeat := time.NewTicker(reportHeartbeat)
	defer heartbeat.Stop()

	progCh := run.Progress()
	for {
		select {
		case <-r.Context().Done():
			// Client disconnected; the run observes the same
			// context and winds down on its own.
			return

		case p, ok := <-progCh:
			if !ok {
				progCh = nil
				continue
			}
			if err := stream.SendJSON("progress", p); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := stream.SendComment("heartbeat"); err != nil {
				return
			}

		case out := <-run.Done():
			// Drain any progress updates that landed before the
			// terminal outcome, the final 100% included.
			for p := range run.Progress() {
				if err := stream.SendJSON("progress", p); err != nil {
					return
				}
			}
			if out.Err != nil {
				s.sendRunError(stream, run.ID, out.Err)
				return
			}
			if err := stream.SendJSON("result", extract(out)); err != nil {
				log.WithError(err).WithField("run", run.ID).
					Warn("sending report result")
			}
			return
		}
	}
}

func (s *Server) sendRunError(stream *SSEStream, runID string, err error) {
	if errors.Is(err, context.Canceled) {
		// Cancellation is not an error worth surfacing.
		return
	}
	msg := "report failed"
	if errors.Is(err, store.ErrNotFound) {
		msg = "chat store not found"
	}
	if sendErr := stream.SendJSON("error", map[string]string{"error": msg}); sendErr != nil {
		log.WithError(sendErr).WithField("run", runID).Warn("sending report error")
	}
	log.WithError(err).WithField("run", runID).Error("report run failed")
}
