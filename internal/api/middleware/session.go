package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/auth"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/service"
)

const (
	DefaultCookieName = "xlogin.sid"

	principalKey = "principal"
	sessionKey   = "session_id"
)

// SessionCookie writes and reads the browser cookie that names a session.
type SessionCookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

func (sc SessionCookie) name() string {
	if sc.Name == "" {
		return DefaultCookieName
	}
	return sc.Name
}

// Read returns the session id carried by the request, if any.
func (sc SessionCookie) Read(c *gin.Context) string {
	id, err := c.Cookie(sc.name())
	if err != nil {
		return ""
	}
	return id
}

// Set issues the cookie for session id.
func (sc SessionCookie) Set(c *gin.Context, id string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sc.name(), id, int(sc.TTL.Seconds()), "/", "", sc.Secure, true)
}

// Clear expires the cookie.
func (sc SessionCookie) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sc.name(), "", -1, "/", "", sc.Secure, true)
}

// RequireAuth rejects requests without a logged in session and exposes the
// session's principal to handlers.
func RequireAuth(sessions *auth.SessionStore, provider *auth.Provider, cookie SessionCookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cookie.Read(c)
		sess, ok := sessions.Get(id)
		if id == "" || !ok || !sess.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "Not authenticated",
			})
			return
		}

		p := service.Principal{
			UserID:      sess.User.ID,
			Credentials: sessions.TokenSource(sess.ID, provider.TokenSource(sess.Token)),
		}
		c.Set(principalKey, p)
		c.Set(sessionKey, sess.ID)
		c.Request = c.Request.WithContext(logger.SetUserID(c.Request.Context(), p.UserID))

		c.Next()
	}
}

// GetPrincipal returns the principal set by RequireAuth.
func GetPrincipal(c *gin.Context) (service.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	p, ok := v.(service.Principal)
	return p, ok
}
