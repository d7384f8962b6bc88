package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/api/middleware"
	"github.com/timmy/tweetpurge/internal/service"
	"github.com/timmy/tweetpurge/internal/xapi"
)

// upstreamStatus maps an X API or service error to the HTTP status returned to the browser.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, xapi.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, xapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAuthRequired), errors.Is(err, xapi.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPostTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"ok":    false,
		"error": msg,
	})
}

// principal fetches the authenticated principal, answering 401 when it is missing.
func principal(c *gin.Context) (service.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Not authenticated")
	}
	return p, ok
}
