package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// handleDeviceHistory serves GET /devices/{device}/history from the command
// journal, newest first.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, ErrCodeJournalDisabled, "command journal is not enabled")
		return
	}

	ref, err := switcher.ParseDeviceRef(chi.URLParam(r, "device"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	filter := journal.Filter{DeviceID: ref.String()}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeFailure(w, &switcher.ValidationError{Code: switcher.CodeInvalidParameter, Field: "limit", Message: "limit must be a number"})
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeFailure(w, &switcher.ValidationError{Code: switcher.CodeInvalidParameter, Field: "offset", Message: "offset must be a number"})
			return
		}
		filter.Offset = n
	}

	result, err := s.journal.Repository().List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal entries", "device_id", ref, "error", err)
		writeInternalError(w, "failed to read command journal")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
