package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/middleware"
	"github.com/gin-gonic/gin"
)

// statusOf maps domain errors onto HTTP statuses.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRemoteUnreachable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusOf(err)
	switch status {
	case http.StatusUnauthorized:
		middleware.Unauthorized(c)
		return
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
