package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/timmy/tweetpurge/internal/config"
	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/repository"
	"github.com/timmy/tweetpurge/internal/xapi"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	ErrUpstream     = errors.New("upstream request failed")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobActive    = errors.New("a deletion job is already running")
	ErrShuttingDown = errors.New("service is shutting down")

	// errWaitInterrupted marks a pacing wait cut short by cancel or shutdown.
	errWaitInterrupted = errors.New("wait interrupted")
)

const (
	defaultMaxPages          = 10
	defaultPageSize          = xapi.MaxPageSize
	defaultRateLimitCooldown = 2 * time.Minute
	defaultTransientPause    = time.Second
	defaultRetention         = time.Hour

	shutdownMessage = "interrupted: service shutting down"
)

// TweetAPI is the part of the X API the deletion engine needs.
type TweetAPI interface {
	ListTweets(ctx context.Context, token, userID, pageToken string, maxResults int) (*xapi.TweetPage, error)
	DeleteTweet(ctx context.Context, token, tweetID string) error
}

// RunArchive keeps summaries of jobs that left memory.
type RunArchive interface {
	Save(ctx context.Context, run *domain.DeletionRun) error
	GetByID(ctx context.Context, id string) (*domain.DeletionRun, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]domain.DeletionRun, error)
}

// DeletionConfig holds configuration for the deletion service.
type DeletionConfig struct {
	MaxPages          int
	PageSize          int
	PacingInterval    time.Duration
	RateLimitCooldown time.Duration
	TransientPause    time.Duration
	MaxItemRetries    int
	Retention         time.Duration
	ReapInterval      time.Duration
}

// StartResult describes a started job. An empty JobID means there was nothing to delete.
type StartResult struct {
	JobID string
	Total int
}

// NoItems reports whether enumeration found nothing, so no job was created.
func (r *StartResult) NoItems() bool {
	return r.JobID == ""
}

// DeletionService enumerates a user's posts and deletes them in a background job,
// one post at a time, pacing calls and sitting out rate limit windows.
type DeletionService struct {
	api     TweetAPI
	jobs    *repository.JobStore
	archive RunArchive
	logger  *logger.Logger
	cfg     DeletionConfig

	now   func() time.Time
	newID func() string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewDeletionService creates a new deletion service. archive may be nil.
func NewDeletionService(
	api TweetAPI,
	jobs *repository.JobStore,
	archive RunArchive,
	log *logger.Logger,
	cfg *DeletionConfig,
) *DeletionService {
	c := *cfg
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.PageSize <= 0 || c.PageSize > xapi.MaxPageSize {
		c.PageSize = defaultPageSize
	}
	if c.MaxItemRetries < 0 {
		c.MaxItemRetries = 0
	}
	// a zero cooldown would hammer a rate limited API
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = defaultRateLimitCooldown
	}
	if c.PacingInterval < 0 {
		c.PacingInterval = 0
	}
	if c.TransientPause < 0 {
		c.TransientPause = defaultTransientPause
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if log == nil {
		log = logger.GetDefault()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &DeletionService{
		api:     api,
		jobs:    jobs,
		archive: archive,
		logger:  log,
		cfg:     c,
		now:     time.Now,
		newID:   uuid.NewString,
		baseCtx: baseCtx,
		stop:    stop,
	}
}

// Start enumerates the principal's posts and launches a deletion job over them.
// Enumeration failures abort Start; no job exists until every page has been read.
func (s *DeletionService) Start(ctx context.Context, p Principal) (*StartResult, error) {
	if s.baseCtx.Err() != nil {
		return nil, ErrShuttingDown
	}
	if p.UserID == "" {
		return nil, ErrAuthRequired
	}
	token, err := p.Token()
	if err != nil {
		return nil, err
	}

	if active, ok := s.jobs.ActiveFor(p.UserID); ok {
		return &StartResult{JobID: active.ID(), Total: active.Total()}, ErrJobActive
	}

	start := time.Now()
	ids, err := s.enumerate(ctx, token, p.UserID)
	if err != nil {
		logger.CtxWarn(ctx, "Enumeration failed: user_id=%s, error=%v", p.UserID, err)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(ids),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Enumeration completed: user_id=%s", p.UserID)

	if len(ids) == 0 {
		return &StartResult{}, nil
	}

	job := repository.NewJob(s.newID(), p.UserID, ids, s.now())
	if active, err := s.jobs.CreateExclusive(job); err != nil {
		if errors.Is(err, repository.ErrOwnerBusy) {
			return &StartResult{JobID: active.ID(), Total: active.Total()}, ErrJobActive
		}
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	// the job outlives the request but keeps its log fields
	jobCtx := logger.SetJobID(logger.Rebind(ctx, s.baseCtx), job.ID())

	s.wg.Add(1)
	go s.run(jobCtx, job, p)

	logger.CtxInfo(jobCtx, "Deletion job started: user_id=%s, total=%d", p.UserID, job.Total())
	return &StartResult{JobID: job.ID(), Total: job.Total()}, nil
}

// enumerate pages through the user's timeline up to the configured page ceiling.
func (s *DeletionService) enumerate(ctx context.Context, token, userID string) ([]string, error) {
	var ids []string
	pageToken := ""
	for page := 0; page < s.cfg.MaxPages; page++ {
		res, err := s.api.ListTweets(ctx, token, userID, pageToken, s.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tweets {
			ids = append(ids, t.ID)
		}
		if res.NextToken == "" {
			return ids, nil
		}
		pageToken = res.NextToken
	}

	logger.CtxWarn(ctx, "Enumeration stopped at page ceiling: user_id=%s, max_pages=%d, collected=%d",
		userID, s.cfg.MaxPages, len(ids))
	return ids, nil
}

// Status returns a snapshot of the owner's job. Jobs already reaped from memory
// are answered from the archive.
func (s *DeletionService) Status(ctx context.Context, owner, jobID string) (domain.DeletionJob, error) {
	if job, ok := s.jobs.GetOwned(jobID, owner); ok {
		return job.Snapshot(), nil
	}
	if s.archive == nil {
		return domain.DeletionJob{}, ErrJobNotFound
	}

	run, err := s.archive.GetByID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.CtxWarn(ctx, "Archive lookup failed: job_id=%s, error=%v", jobID, err)
		}
		return domain.DeletionJob{}, ErrJobNotFound
	}
	if run.Owner != owner {
		return domain.DeletionJob{}, ErrJobNotFound
	}
	return run.Snapshot(), nil
}

// Cancel asks the owner's job to stop at its next checkpoint.
// Cancelling a finished job is acknowledged without effect.
func (s *DeletionService) Cancel(ctx context.Context, owner, jobID string) error {
	job, ok := s.jobs.GetOwned(jobID, owner)
	if !ok {
		return ErrJobNotFound
	}
	if job.RequestCancel() {
		logger.CtxInfo(ctx, "Cancellation requested: job_id=%s", jobID)
	}
	return nil
}

// History lists the owner's archived runs, newest first.
func (s *DeletionService) History(ctx context.Context, owner string, limit int) ([]domain.DeletionRun, error) {
	if s.archive == nil {
		return []domain.DeletionRun{}, nil
	}
	runs, err := s.archive.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run history: %w", err)
	}
	return runs, nil
}

// run is the body of a job's worker goroutine. Whatever happens, the job ends terminal.
func (s *DeletionService) run(ctx context.Context, job *repository.Job, p Principal) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Deletion job panicked: %v", r)
			s.finish(ctx, job, domain.JobStatusError, fmt.Sprintf("internal error: %v", r))
			return
		}
		if !job.Status().IsTerminal() {
			s.finish(ctx, job, domain.JobStatusError, "worker exited unexpectedly")
		}
	}()

	status, lastErr := s.execute(ctx, job, p)
	s.finish(ctx, job, status, lastErr)
}

// execute walks the target ids in order and returns the terminal status to record.
func (s *DeletionService) execute(ctx context.Context, job *repository.Job, p Principal) (domain.JobStatus, string) {
	// waits end early on cancel; delete calls only stop on shutdown
	waitCtx, stopWaits := context.WithCancel(ctx)
	defer stopWaits()
	go func() {
		select {
		case <-job.CancelCh():
			stopWaits()
		case <-waitCtx.Done():
		}
	}()

	limiter := rate.NewLimiter(pacingLimit(s.cfg.PacingInterval), 1)
	ids := job.TargetIDs()

	for i := 0; i < len(ids); {
		if job.CancelRequested() {
			return domain.JobStatusCanceled, ""
		}
		if ctx.Err() != nil {
			return domain.JobStatusError, shutdownMessage
		}

		id := ids[i]
		err := s.deleteWithRetry(ctx, waitCtx, limiter, p, id)

		switch {
		case err == nil:
			job.MarkDeleted()
			i++

		case errors.Is(err, errWaitInterrupted):
			// checkpoint at the top of the loop decides

		case errors.Is(err, xapi.ErrRateLimited):
			until := s.now().Add(s.cfg.RateLimitCooldown)
			job.MarkWaiting(until)
			entry := logger.With(logger.Fields{"cooldown": s.cfg.RateLimitCooldown.String()})
			if reset, ok := xapi.RateLimitReset(err); ok {
				entry = entry.WithField("reset_at", reset.Format(time.RFC3339))
			}
			entry.Warn(ctx, "Rate limited, pausing: tweet_id=%s, resume_at=%s", id, until.Format(time.RFC3339))
			sleepCtx(waitCtx, s.cfg.RateLimitCooldown)
			job.MarkRunning()

		case errors.Is(err, xapi.ErrNotFound):
			logger.CtxInfo(ctx, "Post already gone, skipping: tweet_id=%s", id)
			job.MarkSkipped(id)
			i++

		case errors.Is(err, xapi.ErrUnauthorized), errors.Is(err, xapi.ErrFatal), errors.Is(err, ErrAuthRequired):
			logger.CtxError(ctx, "Deletion aborted: tweet_id=%s, error=%v", id, err)
			return domain.JobStatusError, err.Error()

		case xapi.IsCallerCanceled(err) && (ctx.Err() != nil || job.CancelRequested()):
			// checkpoint at the top of the loop decides

		default:
			logger.CtxWarn(ctx, "Delete failed, skipping: tweet_id=%s, error=%v", id, err)
			job.MarkSkipped(id)
			i++
			sleepCtx(waitCtx, s.cfg.TransientPause)
		}
	}

	if job.CancelRequested() {
		return domain.JobStatusCanceled, ""
	}
	return domain.JobStatusDone, ""
}

// deleteWithRetry paces and deletes one post, retrying transient failures with
// exponential backoff. Every other outcome is returned as is.
func (s *DeletionService) deleteWithRetry(ctx, waitCtx context.Context, limiter *rate.Limiter, p Principal, tweetID string) error {
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 0
	if s.cfg.TransientPause > 0 {
		expo.InitialInterval = s.cfg.TransientPause
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.cfg.MaxItemRetries)), waitCtx)

	op := func() error {
		if err := limiter.Wait(waitCtx); err != nil {
			return backoff.Permanent(errWaitInterrupted)
		}
		token, err := p.Token()
		if err != nil {
			return backoff.Permanent(err)
		}
		err = s.api.DeleteTweet(ctx, token, tweetID)
		if err == nil || xapi.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		logger.CtxDebug(ctx, "Retrying delete: tweet_id=%s, next=%s, error=%v", tweetID, next, err)
	}

	return backoff.RetryNotify(op, policy, notify)
}

func (s *DeletionService) finish(ctx context.Context, job *repository.Job, status domain.JobStatus, lastErr string) {
	at := s.now()
	if !job.Finish(status, lastErr, at) {
		return
	}
	snap := job.Snapshot()

	entry := logger.With(logger.Fields{
		logger.FieldStatus:     string(snap.Status),
		logger.FieldCount:      snap.DeletedCount,
		logger.FieldDurationMs: at.Sub(snap.StartedAt).Milliseconds(),
	})
	if snap.Status == domain.JobStatusError {
		entry.Error(ctx, "Deletion job failed: total=%d, deleted=%d, skipped=%d, error=%s",
			snap.Total, snap.DeletedCount, snap.SkippedCount, snap.LastError)
		return
	}
	entry.Info(ctx, "Deletion job finished: total=%d, deleted=%d, skipped=%d",
		snap.Total, snap.DeletedCount, snap.SkippedCount)
}

// ReapOnce drops finished jobs older than the retention window and archives them.
func (s *DeletionService) ReapOnce(ctx context.Context) int {
	return s.reap(ctx, s.now().Add(-s.cfg.Retention))
}

func (s *DeletionService) reap(ctx context.Context, cutoff time.Time) int {
	reaped := s.jobs.Reap(cutoff)
	for _, snap := range reaped {
		if s.archive == nil {
			continue
		}
		if err := s.archive.Save(ctx, domain.NewDeletionRun(snap)); err != nil {
			logger.CtxError(ctx, "Failed to archive run: job_id=%s, error=%v", snap.ID, err)
		}
	}
	if len(reaped) > 0 {
		logger.With(nil).WithCount(len(reaped)).Debug(ctx, "Reaped finished jobs")
	}
	return len(reaped)
}

// RunReaper reaps on every ReapInterval tick until ctx is done.
func (s *DeletionService) RunReaper(ctx context.Context) error {
	ctx = logger.SetComponent(s.logger.WithContext(ctx), "reaper")
	if s.cfg.ReapInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ReapOnce(ctx)
		}
	}
}

// Shutdown stops running jobs, waits for their workers and archives every finished job.
func (s *DeletionService) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for deletion jobs: %w", ctx.Err())
	}

	archived := s.reap(s.logger.WithContext(ctx), s.now().Add(time.Second))
	s.logger.Infof("Deletion service stopped: archived=%d", archived)
	return nil
}

func pacingLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DeletionConfigFrom maps the loaded configuration onto the service settings.
func DeletionConfigFrom(c *config.DeletionConfig) *DeletionConfig {
	return &DeletionConfig{
		MaxPages:          c.MaxPages,
		PageSize:          c.PageSize,
		PacingInterval:    c.PacingInterval,
		RateLimitCooldown: c.RateLimitCooldown,
		TransientPause:    c.TransientPause,
		MaxItemRetries:    c.MaxItemRetries,
		Retention:         c.Retention,
		ReapInterval:      c.ReapInterval,
	}
}
