package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expense-api/internal/auth"
	"expense-api/internal/config"
	"expense-api/internal/expenses"
	"expense-api/internal/handlers"
	"expense-api/internal/log"
	"expense-api/internal/storage"
	"expense-api/internal/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	// Setup dependencies
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err, "failed to create database")
	defer db.Close()

	h := handlers.NewHandlers(auth.NewService(db, time.Hour), expenses.NewService(db), summary.NewService(db), db)

	// Create router - this panics if routing conflict exists
	mux := setupRouter(h)

	// Verify routes
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "Health check",
			method:     "GET",
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "List Expenses requires auth",
			method:     "GET",
			path:       "/expenses",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Summary requires auth",
			method:     "GET",
			path:       "/summary",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Token with bad credentials",
			method:     "POST",
			path:       "/token",
			body:       `{"username":"nobody","password":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Register",
			method:     "POST",
			path:       "/register",
			body:       `{"username":"alice","password":"pw"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "Unknown route",
			method:     "GET",
			path:       "/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Wrong method",
			method:     "PUT",
			path:       "/expenses",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code,
				"%s %s returned unexpected status", tt.method, tt.path)
		})
	}
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	identity := auth.NewService(db, 0)
	cfg := &config.Config{AdminUser: "root", AdminPassword: "toor"}
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})

	require.NoError(t, bootstrapAdmin(ctx, identity, cfg, logger))
	require.NoError(t, bootstrapAdmin(ctx, identity, cfg, logger), "second start is a no-op")

	admin, err := db.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin.IsStaff)
	assert.Equal(t, 1, strings.Count(buf.String(), "admin user created"))
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "invalid db driver")
}

func TestMigrateCommand(t *testing.T) {
	path := t.TempDir() + "/migrated.db"
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	db, err := storage.NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	count, err := db.UserCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
