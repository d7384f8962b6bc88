package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/service"
)

// TweetHandler serves the account and single-post endpoints.
type TweetHandler struct {
	tweets *service.TweetService
}

// NewTweetHandler creates a new tweet handler.
func NewTweetHandler(tweets *service.TweetService) *TweetHandler {
	return &TweetHandler{tweets: tweets}
}

// PostRequest is the body of POST /api/tweets.
type PostRequest struct {
	Text string `json:"text"`
}

// Me handles GET /api/me.
func (h *TweetHandler) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	user, err := h.tweets.Me(c.Request.Context(), p)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to load account: error=%v", err)
		respondError(c, upstreamStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}

// List handles GET /api/tweets.
func (h *TweetHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	maxResults, _ := strconv.Atoi(c.Query("max_results"))

	page, err := h.tweets.ListPage(c.Request.Context(), p, c.Query("pagination_token"), maxResults)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to list posts: error=%v", err)
		respondError(c, upstreamStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"tweets":     page.Tweets,
		"next_token": page.NextToken,
	})
}

// Create handles POST /api/tweets. An empty or missing body posts the default text.
func (h *TweetHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	tweet, err := h.tweets.Post(c.Request.Context(), p, req.Text)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to create post: error=%v", err)
		respondError(c, upstreamStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "tweet": tweet})
}

// Delete handles DELETE /api/tweets/:id.
func (h *TweetHandler) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	if err := h.tweets.DeleteOne(c.Request.Context(), p, c.Param("id")); err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to delete post: tweet_id=%s, error=%v", c.Param("id"), err)
		respondError(c, upstreamStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
