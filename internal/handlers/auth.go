package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"

	"expense-api/internal/expenses"
	"expense-api/internal/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// decodeCredentials accepts a JSON object or a urlencoded form.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	body, err := readBody(w, r)
	if err != nil {
		return credentials{}, err
	}

	var c credentials
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return credentials{}, models.NewValidationError(expenses.NonFieldErrors, "malformed form body")
		}
		c.Username, c.Password = form.Get("username"), form.Get("password")
	} else if err := json.Unmarshal(body, &c); err != nil {
		return credentials{}, models.NewValidationError(expenses.NonFieldErrors, "request body must be a JSON object")
	}

	verr := &models.ValidationError{}
	if c.Username == "" {
		verr.Add("username", "this field is required")
	}
	if c.Password == "" {
		verr.Add("password", "this field is required")
	}
	return c, verr.OrNil()
}

// Register creates a new user account.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.identity.Register(r.Context(), c.Username, c.Password); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

// ObtainToken exchanges credentials for the user's API token.
func (h *Handlers) ObtainToken(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.identity.Authenticate(r.Context(), c.Username, c.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// RevokeToken logs the caller out by deleting their token.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.Revoke(r.Context(), GetUserFromContext(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
