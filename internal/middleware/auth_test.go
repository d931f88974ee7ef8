package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/models"
)

const secret = "test-secret"

func sign(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(secret, &models.JwtCustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	require.NoError(t, err)
	return token
}

func serve(req *http.Request) (*httptest.ResponseRecorder, string) {
	e := echo.New()
	var seen string
	e.GET("/me", func(c echo.Context) error {
		seen = identity.FromContext(c.Request().Context())
		return c.String(http.StatusOK, seen)
	}, JWTAuthMiddleware(secret))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWTAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   string
	}{
		{name: "valid header", header: "Bearer " + sign(t, "alice", time.Hour), status: http.StatusOK, user: "alice"},
		{name: "query token", query: sign(t, "bob", time.Hour), status: http.StatusOK, user: "bob"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, "alice", -time.Hour), status: http.StatusUnauthorized},
		{name: "invalid user id", header: "Bearer " + sign(t, "a/b", time.Hour), status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, seen := serve(req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
		})
	}
}
