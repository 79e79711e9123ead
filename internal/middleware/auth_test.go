package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func testClaims(role string) UserClaims {
	return UserClaims{UserID: "u-1", Email: "u@example.com", Role: role, CompanyID: "acme"}
}

func okHandler(t *testing.T, want *UserClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r)
		require.True(t, ok)
		if want != nil {
			assert.Equal(t, *want, claims)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIssueAndParseToken(t *testing.T) {
	claims := testClaims("driver")
	token, err := IssueToken(testSecret, claims, time.Now())
	require.NoError(t, err)

	parsed, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, claims, parsed)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := IssueToken(testSecret, testClaims("driver"), time.Now().Add(-2*TokenTTL))
	require.NoError(t, err)

	_, err = ParseToken(testSecret, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseTokenRequiresCompany(t *testing.T) {
	claims := testClaims("driver")
	claims.CompanyID = ""
	token, err := IssueToken(testSecret, claims, time.Now())
	require.NoError(t, err)

	_, err = ParseToken(testSecret, token)
	assert.Error(t, err)
}

func TestAuth(t *testing.T) {
	claims := testClaims("dispatcher")
	token, err := IssueToken(testSecret, claims, time.Now())
	require.NoError(t, err)

	handler := Auth(testSecret, zap.NewNop())(okHandler(t, &claims))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/manager/geofences", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthWithoutSecret(t *testing.T) {
	handler := Auth("", zap.NewNop())(okHandler(t, nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole(zap.NewNop(), "dispatcher", "admin")

	tests := []struct {
		role string
		want int
	}{
		{"dispatcher", http.StatusNoContent},
		{"admin", http.StatusNoContent},
		{"driver", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithUser(req.Context(), testClaims(tt.role)))
			rec := httptest.NewRecorder()
			guard(okHandler(t, nil)).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	guard(okHandler(t, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
