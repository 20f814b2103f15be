package server

import "net/http"

type sessionResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	IsGroup    bool   `json:"is_group"`
	LastActive int64  `json:"last_active"`
}

// handleSessions lists usable chat sessions, newest activity first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		log.WithError(err).Error("listing sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			ID:         sess.ID,
			Name:       s.store.DisplayName(r.Context(), sess.ID),
			Avatar:     s.store.Avatar(r.Context(), sess.ID),
			IsGroup:    sess.IsGroup,
			LastActive: sess.LastActive,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}
