package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
)

// Resolver maps a verified token subject onto an internal user.
type Resolver interface {
	Resolve(ctx context.Context, subject string) (models.User, error)
}

// TokenVerifier checks HS256 bearer tokens and returns their subject.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Subject validates raw and returns its sub claim.
func (v *TokenVerifier) Subject(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", errs.Authentication("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errs.Authentication("token has no subject")
	}
	return sub, nil
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := c.Query("token"); token != "" {
				return token, nil
			}
		}
		return "", errs.Authentication("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errs.Authentication("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// AuthMiddleware verifies the bearer token, resolves the caller and stores the
// internal user id under "userID".
func AuthMiddleware(verifier *TokenVerifier, resolver Resolver, log *zap.Logger) gin.HandlerFunc {
	return authenticate(verifier, resolver, log, false)
}

// WSAuthMiddleware also accepts the token as a "token" query parameter, since
// browsers cannot set headers on websocket upgrades.
func WSAuthMiddleware(verifier *TokenVerifier, resolver Resolver, log *zap.Logger) gin.HandlerFunc {
	return authenticate(verifier, resolver, log, true)
}

func authenticate(verifier *TokenVerifier, resolver Resolver, log *zap.Logger, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c, allowQuery)
		if err != nil {
			abort(c, err)
			return
		}
		subject, err := verifier.Subject(raw)
		if err != nil {
			abort(c, err)
			return
		}
		user, err := resolver.Resolve(c.Request.Context(), subject)
		if err != nil {
			if errs.KindOf(err) != errs.KindAuthentication {
				log.Error("resolve caller failed", zap.Error(err))
			}
			abort(c, err)
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindAuthentication {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": e.Msg})
		return
	}
	if errs.IsTransient(err) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "identity lookup unavailable"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity lookup failed"})
}
