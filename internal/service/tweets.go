package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/xapi"
)

// DefaultPostText is posted when the caller sends no text.
const DefaultPostText = "Hello from X PKCE demo!"

// MaxPostLength is the longest post the API accepts.
const MaxPostLength = 280

var ErrPostTooLong = errors.New("post text is too long")

// TweetClient is the X API surface used by the dashboard operations.
type TweetClient interface {
	TweetAPI
	GetMe(ctx context.Context, token string) (*domain.User, error)
	CreateTweet(ctx context.Context, token, text string) (*domain.Tweet, error)
}

// TweetService serves the single-post operations of the dashboard.
type TweetService struct {
	api      TweetClient
	pageSize int
}

// NewTweetService creates a new TweetService. pageSize is the default listing size.
func NewTweetService(api TweetClient, pageSize int) *TweetService {
	if pageSize <= 0 || pageSize > xapi.MaxPageSize {
		pageSize = defaultPageSize
	}
	return &TweetService{api: api, pageSize: pageSize}
}

// Me returns the account behind the principal's credential.
func (s *TweetService) Me(ctx context.Context, p Principal) (*domain.User, error) {
	token, err := p.Token()
	if err != nil {
		return nil, err
	}
	return s.api.GetMe(ctx, token)
}

// ListPage returns one page of the principal's posts.
func (s *TweetService) ListPage(ctx context.Context, p Principal, pageToken string, maxResults int) (*xapi.TweetPage, error) {
	token, err := p.Token()
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = s.pageSize
	}
	page, err := s.api.ListTweets(ctx, token, p.UserID, pageToken, maxResults)
	if err != nil {
		return nil, err
	}
	if page.Tweets == nil {
		page.Tweets = []domain.Tweet{}
	}
	return page, nil
}

// DeleteOne deletes a single post right away, outside of any job.
func (s *TweetService) DeleteOne(ctx context.Context, p Principal, tweetID string) error {
	token, err := p.Token()
	if err != nil {
		return err
	}
	if err := s.api.DeleteTweet(ctx, token, tweetID); err != nil {
		return err
	}
	logger.CtxInfo(logger.WithField(ctx, logger.FieldTweetID, tweetID), "Post deleted")
	return nil
}

// Post publishes text, falling back to DefaultPostText when it is blank.
func (s *TweetService) Post(ctx context.Context, p Principal, text string) (*domain.Tweet, error) {
	token, err := p.Token()
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = DefaultPostText
	}
	if len([]rune(text)) > MaxPostLength {
		return nil, fmt.Errorf("%w: %d characters", ErrPostTooLong, len([]rune(text)))
	}

	tweet, err := s.api.CreateTweet(ctx, token, text)
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(logger.WithField(ctx, logger.FieldTweetID, tweet.ID), "Post created")
	return tweet, nil
}
