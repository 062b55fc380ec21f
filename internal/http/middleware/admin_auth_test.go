package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedStaffToken(t *testing.T, secret, role string) string {
	t.Helper()
	claims := StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAdminJWT(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		roles  []string
		header string
		want   int
	}{
		{"auth disabled", "", nil, "", http.StatusUnauthorized},
		{"missing header", "secret", nil, "", http.StatusUnauthorized},
		{"wrong secret", "secret", nil, "Bearer " + signedStaffToken(t, "wrong", "admin"), http.StatusUnauthorized},
		{"valid", "secret", nil, "Bearer " + signedStaffToken(t, "secret", ""), http.StatusOK},
		{"role allowed", "secret", []string{"admin", "nurse"}, "Bearer " + signedStaffToken(t, "secret", "nurse"), http.StatusOK},
		{"role rejected", "secret", []string{"admin"}, "Bearer " + signedStaffToken(t, "secret", "nurse"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/templates", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AdminJWT(tt.secret, tt.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := StaffClaimsFromContext(r.Context())
				require.True(t, ok)
				assert.Equal(t, "nurse-1", claims.Subject)
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
