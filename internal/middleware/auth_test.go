package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/telemetry"
)

const testSecret = "test-secret"

type stubResolver map[string]int

func (s stubResolver) Resolve(_ context.Context, subject string) (models.User, error) {
	id, ok := s[subject]
	if !ok {
		return models.User{}, errs.Authentication("unknown caller identity")
	}
	return models.User{ID: id, ExternalID: subject}, nil
}

func signToken(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newRouter(issuer string, ws bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	verifier := NewTokenVerifier(testSecret, issuer)
	resolver := stubResolver{"auth0|ana": 7}
	mw := AuthMiddleware(verifier, resolver, zap.NewNop())
	if ws {
		mw = WSAuthMiddleware(verifier, resolver, zap.NewNop())
	}
	r.GET("/me", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID")})
	})
	return r
}

func TestAuthMiddlewareResolvesCaller(t *testing.T) {
	r := newRouter("", false)
	token := signToken(t, jwt.RegisteredClaims{Subject: "auth0|ana", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, jwt.SigningMethodHS256)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 7, body["user_id"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "auth0|ana", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	cases := map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not-a-token",
		"expired":      "Bearer " + signToken(t, jwt.RegisteredClaims{Subject: "auth0|ana", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}, jwt.SigningMethodHS256),
		"unknown sub":  "Bearer " + signToken(t, jwt.RegisteredClaims{Subject: "auth0|eve"}, jwt.SigningMethodHS256),
		"no sub":       "Bearer " + signToken(t, jwt.RegisteredClaims{}, jwt.SigningMethodHS256),
		"wrong alg":    "Bearer " + signToken(t, valid, jwt.SigningMethodHS512),
		"wrong issuer": "Bearer " + signToken(t, jwt.RegisteredClaims{Subject: "auth0|ana", Issuer: "other"}, jwt.SigningMethodHS256),
	}
	r := newRouter("identity", false)
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestIssuerAccepted(t *testing.T) {
	r := newRouter("identity", false)
	token := signToken(t, jwt.RegisteredClaims{Subject: "auth0|ana", Issuer: "identity"}, jwt.SigningMethodHS256)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWSAuthAcceptsQueryToken(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{Subject: "auth0|ana"}, jwt.SigningMethodHS256)

	w := httptest.NewRecorder()
	newRouter("", true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newRouter("", false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = telemetry.RequestIDFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}
