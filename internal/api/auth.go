package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
)

const sessionContextKey = "schoolboard.session"

type sessionClaims struct {
	jwt.RegisteredClaims
}

// issueToken mints a bearer token addressing the session context. The token
// carries only the session ID; role and identity stay server-side.
func (a *API) issueToken(sessionID string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// requireSession resolves the bearer token into a ready session. A session
// that is resolving, failed or gone reads as unauthenticated.
func (a *API) requireSession(c *gin.Context) {
	raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if raw == "" {
		abortWithError(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing bearer token")))
		return
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		abortWithError(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.Get(claims.Subject)
	if err != nil || ss.Status != domain.SessionReady {
		abortWithError(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("no active session")))
		return
	}

	c.Set(sessionContextKey, ss)
	c.Next()
}

func (a *API) requireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentSession(c).Role != role {
			abortWithError(c, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("requires role %s", role)))
			return
		}
		c.Next()
	}
}

func (a *API) requireAuthor(c *gin.Context) {
	if !currentSession(c).Role.CanAuthor() {
		abortWithError(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("requires a teacher or admin role")))
		return
	}
	c.Next()
}

func currentSession(c *gin.Context) domain.Session {
	ss, _ := c.Get(sessionContextKey)
	s, _ := ss.(domain.Session)
	return s
}
