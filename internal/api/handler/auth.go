package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/api/middleware"
	"github.com/timmy/tweetpurge/internal/auth"
	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/service"
	"golang.org/x/oauth2"
)

// UserLookup resolves the account behind a fresh token.
type UserLookup interface {
	Me(ctx context.Context, p service.Principal) (*domain.User, error)
}

// AuthHandler runs the browser login flow.
type AuthHandler struct {
	provider *auth.Provider
	sessions *auth.SessionStore
	users    UserLookup
	cookie   middleware.SessionCookie
	// where the browser lands after a successful login
	afterLogin string
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(provider *auth.Provider, sessions *auth.SessionStore, users UserLookup, cookie middleware.SessionCookie) *AuthHandler {
	return &AuthHandler{
		provider:   provider,
		sessions:   sessions,
		users:      users,
		cookie:     cookie,
		afterLogin: "/api/me",
	}
}

// Login handles GET /login.
func (h *AuthHandler) Login(c *gin.Context) {
	state := auth.NewState()
	verifier := auth.NewVerifier()

	id := h.cookie.Read(c)
	if !h.sessions.Update(id, func(s *auth.Session) {
		s.State = state
		s.Verifier = verifier
	}) {
		sess := h.sessions.Create()
		id = sess.ID
		h.sessions.Update(id, func(s *auth.Session) {
			s.State = state
			s.Verifier = verifier
		})
	}

	h.cookie.Set(c, id)
	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, verifier))
}

// Callback handles GET /callback.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if oauthErr := c.Query("error"); oauthErr != "" {
		logger.CtxWarn(ctx, "Authorization denied: error=%s, description=%s", oauthErr, c.Query("error_description"))
		respondError(c, http.StatusBadRequest, "OAuth error: "+oauthErr)
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		respondError(c, http.StatusBadRequest, "Missing code/state")
		return
	}

	sess, ok := h.sessions.Get(h.cookie.Read(c))
	if !ok || sess.State == "" || sess.State != state {
		respondError(c, http.StatusBadRequest, "Invalid state (CSRF check failed)")
		return
	}
	if sess.Verifier == "" {
		respondError(c, http.StatusBadRequest, "Missing PKCE verifier")
		return
	}

	tok, err := h.provider.Exchange(ctx, code, sess.Verifier)
	if err != nil {
		logger.CtxError(ctx, "Token exchange failed: error=%v", err)
		respondError(c, http.StatusBadGateway, "Token exchange failed")
		return
	}

	user, err := h.users.Me(ctx, service.Principal{Credentials: oauth2.StaticTokenSource(tok)})
	if err != nil {
		logger.CtxError(ctx, "Failed to load account: error=%v", err)
		respondError(c, upstreamStatus(err), "Failed to load account")
		return
	}

	if !h.sessions.Update(sess.ID, func(s *auth.Session) {
		s.Token = tok
		s.User = user
		s.State = ""
		s.Verifier = ""
	}) {
		respondError(c, http.StatusBadRequest, "Session expired")
		return
	}

	logger.CtxInfo(logger.SetUserID(ctx, user.ID), "User logged in: username=%s", user.Username)
	h.cookie.Set(c, sess.ID)
	c.Redirect(http.StatusFound, h.afterLogin)
}

// Logout handles POST /logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if id := h.cookie.Read(c); id != "" {
		h.sessions.Delete(id)
	}
	h.cookie.Clear(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
