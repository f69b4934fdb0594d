package handlers

import (
	"net/http"

	"expense-api/internal/expenses"
)

// ListExpenses returns the caller's visible expenses, filtered and ordered
// by the query string.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := expenses.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.expenses.List(r.Context(), GetUserFromContext(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// CreateExpense records a new expense for the caller.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in, err := expenses.DecodeInput(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.expenses.Create(r.Context(), GetUserFromContext(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetExpense returns a single expense.
func (h *Handlers) GetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.expenses.Get(r.Context(), GetUserFromContext(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// UpdateExpense replaces an expense.
func (h *Handlers) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// PatchExpense changes only the fields present in the body.
func (h *Handlers) PatchExpense(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request, partial bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := GetUserFromContext(r)

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in, err := expenses.DecodeInput(body)
	if err != nil {
		// A missing or foreign record is reported before a bad payload.
		if _, getErr := h.expenses.Get(r.Context(), user, id); getErr != nil {
			err = getErr
		}
		writeError(w, r, err)
		return
	}

	updated, err := h.expenses.Update(r.Context(), user, id, in, partial)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteExpense removes an expense.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.expenses.Delete(r.Context(), GetUserFromContext(r), id); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
