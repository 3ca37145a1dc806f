package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/gin-gonic/gin"
)

const callerKey = "socialdistro.caller"

// Identifier maps basic-auth credentials to a caller.
type Identifier interface {
	Identify(ctx context.Context, username, password string) (*federation.Caller, error)
}

// AuthMiddleware resolves HTTP Basic credentials to a node or local author.
// Requests without credentials pass through anonymously; bad credentials are
// rejected with 401.
func AuthMiddleware(ids Identifier, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Next()
			return
		}

		caller, err := ids.Identify(c.Request.Context(), username, password)
		switch {
		case errors.Is(err, domain.ErrAuthentication):
			logger.Info("rejected credentials", "user", username, "ip", c.ClientIP())
			Unauthorized(c)
			return
		case err != nil:
			logger.Error("failed to identify caller", "user", username, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// RequireCaller rejects anonymous requests.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Caller(c) == nil {
			Unauthorized(c)
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated caller or nil.
func Caller(c *gin.Context) *federation.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*federation.Caller)
	return caller
}

// Author returns the authenticated local author or nil.
func Author(c *gin.Context) *domain.Author {
	if caller := Caller(c); caller != nil {
		return caller.Author
	}
	return nil
}

func Unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="socialdistro"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
}
