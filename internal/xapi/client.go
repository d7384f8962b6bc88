package xapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
)

const (
	defaultBaseURL     = "https://api.x.com/2"
	defaultCallTimeout = 15 * time.Second

	// MaxPageSize and MinPageSize are the bounds the timeline endpoint accepts for max_results.
	MaxPageSize = 100
	MinPageSize = 5
)

// Client talks to the X API v2 on behalf of a bearer credential.
// The credential is passed per call so one Client serves every user.
type Client struct {
	client      *resty.Client
	callTimeout time.Duration
}

// Config holds configuration for the X API client.
type Config struct {
	BaseURL     string
	CallTimeout time.Duration
}

// NewClient creates a new X API client.
func NewClient(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		client:      client,
		callTimeout: callTimeout,
	}
}

// TweetPage is one page of the user's timeline.
type TweetPage struct {
	Tweets    []domain.Tweet
	NextToken string
}

type timelineResponse struct {
	Data []domain.Tweet `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type deleteResponse struct {
	Data struct {
		Deleted bool `json:"deleted"`
	} `json:"data"`
}

type userResponse struct {
	Data domain.User `json:"data"`
}

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data domain.Tweet `json:"data"`
}

// ListTweets fetches one page of posts authored by userID.
// maxResults is clamped to what the endpoint accepts; an empty pageToken starts from the newest post.
func (c *Client) ListTweets(ctx context.Context, token, userID, pageToken string, maxResults int) (*TweetPage, error) {
	if maxResults > MaxPageSize {
		maxResults = MaxPageSize
	}
	if maxResults < MinPageSize {
		maxResults = MinPageSize
	}

	var out timelineResponse
	req := c.request(token).
		SetPathParam("id", userID).
		SetQueryParam("max_results", strconv.Itoa(maxResults)).
		SetQueryParam("tweet.fields", "created_at").
		SetResult(&out)
	if pageToken != "" {
		req.SetQueryParam("pagination_token", pageToken)
	}

	if err := c.do(ctx, req, http.MethodGet, "/users/{id}/tweets"); err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}

	return &TweetPage{Tweets: out.Data, NextToken: out.Meta.NextToken}, nil
}

// DeleteTweet deletes a single post. A post the API reports as not deleted yields ErrNotFound.
func (c *Client) DeleteTweet(ctx context.Context, token, tweetID string) error {
	var out deleteResponse
	req := c.request(token).
		SetPathParam("id", tweetID).
		SetResult(&out)

	if err := c.do(ctx, req, http.MethodDelete, "/tweets/{id}"); err != nil {
		return fmt.Errorf("delete tweet %s: %w", tweetID, err)
	}
	if !out.Data.Deleted {
		return fmt.Errorf("delete tweet %s: %w", tweetID, ErrNotFound)
	}
	return nil
}

// GetMe returns the account the token belongs to.
func (c *Client) GetMe(ctx context.Context, token string) (*domain.User, error) {
	var out userResponse
	req := c.request(token).SetResult(&out)

	if err := c.do(ctx, req, http.MethodGet, "/users/me"); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("get current user: %w: empty user id", ErrFatal)
	}
	return &out.Data, nil
}

// CreateTweet publishes a new post.
func (c *Client) CreateTweet(ctx context.Context, token, text string) (*domain.Tweet, error) {
	var out createTweetResponse
	req := c.request(token).
		SetBody(createTweetRequest{Text: text}).
		SetResult(&out)

	if err := c.do(ctx, req, http.MethodPost, "/tweets"); err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	return &out.Data, nil
}

func (c *Client) request(token string) *resty.Request {
	return c.client.R().
		SetAuthToken(token).
		SetError(&errorBody{})
}

// do executes req under the per-call timeout and classifies the outcome.
func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := req.SetContext(callCtx).Execute(method, path)
	if err != nil {
		// the caller gave up; surface that rather than calling it an upstream failure
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	logger.With(logger.Fields{
		logger.FieldStatus:     resp.StatusCode(),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug(ctx, "X API call: method=%s, path=%s", method, path)

	if resp.IsSuccess() {
		return nil
	}

	body, _ := resp.Error().(*errorBody)
	return newAPIError(resp.StatusCode(), resp.Header(), body)
}

// IsCallerCanceled reports whether err came from the caller's own context.
func IsCallerCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
