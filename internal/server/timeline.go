package server

import (
	"net/http"

	"github.com/wesm/chatlens/internal/store"
)

// handleTimeline serves a keyset-paginated page of media messages
// for one session. before_time and before_row come from the
// previous page's response.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	beforeTime, err := parseIntParam(r, "before_time", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	beforeRow, err := parseIntParam(r, "before_row", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rawLimit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := clampLimit(rawLimit, store.DefaultTimelineLimit, store.MaxTimelineLimit)

	page, err := s.store.Timeline(r.Context(), sessionID, beforeTime, beforeRow, limit)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		log.WithError(err).WithField("session", sessionID).Error("loading timeline")
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
