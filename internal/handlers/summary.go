package handlers

import (
	"net/http"
)

// Summary returns the caller's spending per category.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	totals, err := h.summary.Summarize(r.Context(), GetUserFromContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}
