package middleware

import (
	"context"
	"net/http"
	"strings"

	"talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Principal is the authenticated caller attached to a request
type Principal struct {
	ID   string
	Name string
	Role string
}

// Authenticator resolves a bearer token into a Principal
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

const principalKey = "principal"

// TokenFromRequest returns the credential from the "token" query parameter
// or, failing that, the Authorization header with an optional Bearer prefix.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(header)
}

// RequireAuth rejects requests without a valid token and stores the Principal on the context
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.Error(errors.Authentication("Authentication error"))
			c.Abort()
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.FromGin(c).Debug("Invalid token", "error", err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Set("userId", principal.ID)
		c.Next()
	}
}

// RequireRole returns a middleware that requires the caller to hold one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			c.Error(errors.Authentication("Authentication required"))
			c.Abort()
			return
		}

		for _, role := range roles {
			if principal.Role == role {
				c.Next()
				return
			}
		}

		c.Error(errors.AccessDenied("Your role does not allow this operation"))
		c.Abort()
	}
}

// PrincipalFrom returns the caller stored by RequireAuth
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
