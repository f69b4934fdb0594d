package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"expense-api/internal/auth"
	"expense-api/internal/expenses"
	"expense-api/internal/log"
	"expense-api/internal/models"
	"expense-api/internal/summary"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes = 1 << 20
)

var errBodyTooLarge = errors.New("request body too large")

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	identity *auth.Service
	expenses *expenses.Service
	summary  *summary.Service
	health   Pinger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(identity *auth.Service, expenseSvc *expenses.Service, summarySvc *summary.Service, health Pinger) *Handlers {
	return &Handlers{identity: identity, expenses: expenseSvc, summary: summarySvc, health: health}
}

// Mount registers every API route on mux.
func (h *Handlers) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("POST /token", h.ObtainToken)
	mux.Handle("DELETE /token", h.AuthMiddleware(http.HandlerFunc(h.RevokeToken)))

	mux.Handle("GET /expenses", h.AuthMiddleware(http.HandlerFunc(h.ListExpenses)))
	mux.Handle("POST /expenses", h.AuthMiddleware(http.HandlerFunc(h.CreateExpense)))
	mux.Handle("GET /expenses/{id}", h.AuthMiddleware(http.HandlerFunc(h.GetExpense)))
	mux.Handle("PUT /expenses/{id}", h.AuthMiddleware(http.HandlerFunc(h.UpdateExpense)))
	mux.Handle("PATCH /expenses/{id}", h.AuthMiddleware(http.HandlerFunc(h.PatchExpense)))
	mux.Handle("DELETE /expenses/{id}", h.AuthMiddleware(http.HandlerFunc(h.DeleteExpense)))

	mux.Handle("GET /summary", h.AuthMiddleware(http.HandlerFunc(h.Summary)))
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware resolves the bearer token and rejects unauthenticated requests.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.identity.Resolve(r.Context(), tokenFromHeader(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenFromHeader accepts both "Bearer <key>" and "Token <key>".
func tokenFromHeader(header string) string {
	scheme, key, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token") {
		return ""
	}
	return strings.TrimSpace(key)
}

// Health reports whether the service can reach its database.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "health check failed",
			log.NewFields().WithComponent(log.ComponentStorage).WithError(err).ToSlice()...)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid input", Fields: verr.Fields})
	case errors.Is(err, models.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: models.ErrUnauthenticated.Error()})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: models.ErrForbidden.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: models.ErrNotFound.Error()})
	case errors.Is(err, errBodyTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error()})
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			log.NewFields().WithError(err).ToSlice()...)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// readBody reads the request body up to MaxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, models.NewValidationError(expenses.NonFieldErrors, "could not read request body")
	}
	return body, nil
}

// pathID parses the {id} path segment. Anything but a positive integer is
// reported as not found.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.ErrNotFound
	}
	return id, nil
}
