package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-records/internal/auth"
)

func issueTestToken(t *testing.T, userID int64, role string) string {
	t.Helper()

	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute)
	token, _, err := issuer.IssueAccess(userID, role)
	require.NoError(t, err)
	return token
}

func TestRequireAuth(t *testing.T) {
	verifier := auth.NewTokenVerifier(testSecret)

	var gotUserID int64
	var gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = auth.UserIDFromContext(r.Context())
		gotRole, _ = auth.RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := auth.RequireAuth(verifier, next)

	testCases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer garbage", http.StatusUnauthorized},
		{"valid token", "Bearer " + issueTestToken(t, 7, auth.RoleFaculty), http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/courses", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}

	assert.Equal(t, int64(7), gotUserID)
	assert.Equal(t, auth.RoleFaculty, gotRole)
}

func TestRequireRole(t *testing.T) {
	verifier := auth.NewTokenVerifier(testSecret)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	facultyOnly := auth.RequireRole(verifier, auth.RoleFaculty, next)

	testCases := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"matching role", issueTestToken(t, 7, auth.RoleFaculty), http.StatusOK},
		{"other role", issueTestToken(t, 8, auth.RoleStudent), http.StatusForbidden},
		{"no role claim", issueTestToken(t, 9, ""), http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/courses", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			facultyOnly.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}
