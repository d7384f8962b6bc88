package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/repository"
	"github.com/timmy/tweetpurge/internal/xapi"
	"gorm.io/gorm"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeAPI struct {
	mu       sync.Mutex
	pages    [][]string
	listErr  error
	listed   int
	deleteFn func(ctx context.Context, id string, attempt int) error
	attempts map[string]int
	deleted  []string
}

func newFakeAPI(pages ...[]string) *fakeAPI {
	return &fakeAPI{pages: pages, attempts: make(map[string]int)}
}

func (f *fakeAPI) ListTweets(ctx context.Context, token, userID, pageToken string, maxResults int) (*xapi.TweetPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if f.listErr != nil {
		return nil, f.listErr
	}

	idx := 0
	if pageToken != "" {
		idx, _ = strconv.Atoi(strings.TrimPrefix(pageToken, "p"))
	}
	page := &xapi.TweetPage{}
	if idx >= len(f.pages) {
		return page, nil
	}
	for _, id := range f.pages[idx] {
		page.Tweets = append(page.Tweets, domain.Tweet{ID: id})
	}
	if idx+1 < len(f.pages) {
		page.NextToken = fmt.Sprintf("p%d", idx+1)
	}
	return page, nil
}

func (f *fakeAPI) DeleteTweet(ctx context.Context, token, tweetID string) error {
	f.mu.Lock()
	f.attempts[tweetID]++
	attempt := f.attempts[tweetID]
	fn := f.deleteFn
	f.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, tweetID, attempt)
	}
	if err == nil {
		f.mu.Lock()
		f.deleted = append(f.deleted, tweetID)
		f.mu.Unlock()
	}
	return err
}

func (f *fakeAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeAPI) attemptsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

type fakeArchive struct {
	mu   sync.Mutex
	runs []domain.DeletionRun
}

func (a *fakeArchive) Save(ctx context.Context, run *domain.DeletionRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, *run)
	return nil
}

func (a *fakeArchive) GetByID(ctx context.Context, id string) (*domain.DeletionRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (a *fakeArchive) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.DeletionRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.DeletionRun
	for _, r := range a.runs {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *fakeArchive) saved() []domain.DeletionRun {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.DeletionRun(nil), a.runs...)
}

func testConfig() *DeletionConfig {
	return &DeletionConfig{
		MaxPages:          10,
		PageSize:          100,
		RateLimitCooldown: 50 * time.Millisecond,
		TransientPause:    time.Millisecond,
		MaxItemRetries:    2,
		Retention:         time.Hour,
	}
}

func newTestService(t *testing.T, api TweetAPI, cfg *DeletionConfig) (*DeletionService, *fakeArchive) {
	t.Helper()
	archive := &fakeArchive{}
	svc := NewDeletionService(api, repository.NewJobStore(), archive, nil, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, archive
}

func alice() Principal {
	return NewStaticPrincipal("alice", "alice-token")
}

func waitTerminal(t *testing.T, svc *DeletionService, owner, jobID string) domain.DeletionJob {
	t.Helper()
	var snap domain.DeletionJob
	require.Eventually(t, func() bool {
		var err error
		snap, err = svc.Status(context.Background(), owner, jobID)
		return err == nil && snap.Status.IsTerminal()
	}, waitFor, tick)
	return snap
}

func transientErr() error {
	return fmt.Errorf("delete tweet: %w", &xapi.APIError{StatusCode: 503, Kind: xapi.ErrTransient})
}

func TestStartDeletesEveryPostInOrder(t *testing.T) {
	api := newFakeAPI([]string{"1", "2"}, []string{"3"})
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	require.False(t, res.NoItems())
	assert.Equal(t, 3, res.Total)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.Equal(t, 3, snap.DeletedCount)
	assert.Zero(t, snap.SkippedCount)
	assert.Empty(t, snap.LastError)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, []string{"1", "2", "3"}, api.deletedIDs())
}

func TestStartWithNoPostsCreatesNoJob(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	assert.True(t, res.NoItems())
	assert.Zero(t, svc.jobs.Len())
}

func TestStartEnumerationFailure(t *testing.T) {
	api := newFakeAPI([]string{"1"})
	api.listErr = &xapi.APIError{StatusCode: 429, Kind: xapi.ErrRateLimited}
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, xapi.ErrRateLimited)
	assert.Zero(t, svc.jobs.Len())
	assert.Empty(t, api.deletedIDs())
}

func TestStartStopsAtPageCeiling(t *testing.T) {
	api := newFakeAPI([]string{"1"}, []string{"2"}, []string{"3"}, []string{"4"})
	cfg := testConfig()
	cfg.MaxPages = 2
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, api.listed)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, 2, snap.DeletedCount)
}

func TestStartRequiresCredentials(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI([]string{"1"}), testConfig())

	_, err := svc.Start(context.Background(), Principal{UserID: "alice"})
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = svc.Start(context.Background(), NewStaticPrincipal("", "tok"))
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestStartRejectsSecondActiveJob(t *testing.T) {
	release := make(chan struct{})
	api := newFakeAPI([]string{"1", "2"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("delete tweet %s: %w", id, ctx.Err())
		}
	}
	svc, _ := newTestService(t, api, testConfig())

	first, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	second, err := svc.Start(context.Background(), alice())
	assert.ErrorIs(t, err, ErrJobActive)
	require.NotNil(t, second)
	assert.Equal(t, first.JobID, second.JobID)

	// other owners are unaffected
	_, err = svc.Start(context.Background(), NewStaticPrincipal("bob", "bob-token"))
	require.NoError(t, err)

	close(release)
	snap := waitTerminal(t, svc, "alice", first.JobID)
	assert.Equal(t, domain.JobStatusDone, snap.Status)

	third, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestRateLimitPausesAndResumes(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "2" && attempt == 1 {
			return fmt.Errorf("delete tweet 2: %w", &xapi.APIError{StatusCode: 429, Kind: xapi.ErrRateLimited})
		}
		return nil
	}
	cfg := testConfig()
	cfg.RateLimitCooldown = 300 * time.Millisecond
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := svc.Status(context.Background(), "alice", res.JobID)
		return err == nil && snap.Status == domain.JobStatusWaitingOnRateLimit && snap.ResumeAt != nil
	}, waitFor, tick)

	snap, err := svc.Status(context.Background(), "alice", res.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.DeletedCount)

	snap = waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.Equal(t, 3, snap.DeletedCount)
	assert.Nil(t, snap.ResumeAt)
	assert.Equal(t, 2, api.attemptsFor("2"))
	assert.Equal(t, []string{"1", "2", "3"}, api.deletedIDs())
}

func TestMissingPostIsSkipped(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "2" {
			return fmt.Errorf("delete tweet 2: %w", xapi.ErrNotFound)
		}
		return nil
	}
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.Equal(t, 2, snap.DeletedCount)
	assert.Equal(t, 1, snap.SkippedCount)
	assert.Equal(t, []string{"2"}, snap.SkippedIDs)
	assert.Equal(t, 1, api.attemptsFor("2"))
}

func TestUnauthorizedStopsJob(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "2" {
			return fmt.Errorf("delete tweet 2: %w", &xapi.APIError{StatusCode: 401, Kind: xapi.ErrUnauthorized, Detail: "token revoked"})
		}
		return nil
	}
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusError, snap.Status)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Contains(t, snap.LastError, "token revoked")
	assert.Zero(t, api.attemptsFor("3"))
}

func TestTransientFailureIsRetried(t *testing.T) {
	api := newFakeAPI([]string{"1", "2"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "1" && attempt == 1 {
			return transientErr()
		}
		if id == "2" {
			return transientErr()
		}
		return nil
	}
	cfg := testConfig()
	cfg.MaxItemRetries = 2
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Equal(t, 1, snap.SkippedCount)
	assert.Equal(t, []string{"2"}, snap.SkippedIDs)
	assert.Equal(t, 2, api.attemptsFor("1"))
	assert.Equal(t, 3, api.attemptsFor("2"))
}

func TestCancelDuringCooldown(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "2" {
			return fmt.Errorf("delete tweet 2: %w", xapi.ErrRateLimited)
		}
		return nil
	}
	cfg := testConfig()
	cfg.RateLimitCooldown = time.Hour
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := svc.Status(context.Background(), "alice", res.JobID)
		return snap.Status == domain.JobStatusWaitingOnRateLimit
	}, waitFor, tick)

	require.NoError(t, svc.Cancel(context.Background(), "alice", res.JobID))

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusCanceled, snap.Status)
	assert.True(t, snap.CancelRequested)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Empty(t, snap.LastError)
	assert.Zero(t, api.attemptsFor("3"))
}

func TestCancelLetsInFlightDeleteFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := newFakeAPI([]string{"1", "2"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "1" {
			close(started)
			<-release
		}
		return nil
	}
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	<-started
	require.NoError(t, svc.Cancel(context.Background(), "alice", res.JobID))
	close(release)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusCanceled, snap.Status)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Equal(t, []string{"1"}, api.deletedIDs())
}

func TestCancelAfterThreeOfTen(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	api := newFakeAPI(ids)
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		// the fourth post holds the job in a long cooldown until cancelled
		if id == "4" {
			return fmt.Errorf("delete tweet 4: %w", xapi.ErrRateLimited)
		}
		return nil
	}
	cfg := testConfig()
	cfg.RateLimitCooldown = time.Hour
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)

	require.Eventually(t, func() bool {
		snap, _ := svc.Status(context.Background(), "alice", res.JobID)
		return snap.DeletedCount == 3 && snap.Status == domain.JobStatusWaitingOnRateLimit
	}, waitFor, tick)

	require.NoError(t, svc.Cancel(context.Background(), "alice", res.JobID))

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusCanceled, snap.Status)
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, 3, snap.DeletedCount)
	assert.Equal(t, 7, snap.Remaining())
	assert.Equal(t, []string{"1", "2", "3"}, api.deletedIDs())
	assert.Zero(t, api.attemptsFor("5"))
}

func TestPanicEndsJobInError(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		if id == "2" {
			panic("boom")
		}
		return nil
	}
	svc, _ := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, domain.JobStatusError, snap.Status)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Contains(t, snap.LastError, "internal error")
	assert.Contains(t, snap.LastError, "boom")
	assert.NotNil(t, snap.FinishedAt)
	assert.Zero(t, api.attemptsFor("3"))

	// the owner is free to start again
	_, err = svc.Start(context.Background(), alice())
	assert.NoError(t, err)
}

func TestCancelAndStatusAreOwnerScoped(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI([]string{"1"}), testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	waitTerminal(t, svc, "alice", res.JobID)

	_, err = svc.Status(context.Background(), "bob", res.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "bob", res.JobID), ErrJobNotFound)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "alice", "missing"), ErrJobNotFound)

	// cancelling a finished job is acknowledged and changes nothing
	require.NoError(t, svc.Cancel(context.Background(), "alice", res.JobID))
	snap, err := svc.Status(context.Background(), "alice", res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.False(t, snap.CancelRequested)
}

func TestPacingSpacesDeletes(t *testing.T) {
	api := newFakeAPI([]string{"1", "2", "3"})
	cfg := testConfig()
	cfg.PacingInterval = 40 * time.Millisecond
	svc, _ := newTestService(t, api, cfg)

	start := time.Now()
	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	snap := waitTerminal(t, svc, "alice", res.JobID)
	assert.Equal(t, 3, snap.DeletedCount)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestShutdownInterruptsAndArchives(t *testing.T) {
	api := newFakeAPI([]string{"1", "2"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		<-ctx.Done()
		return fmt.Errorf("delete tweet %s: %w", id, ctx.Err())
	}
	svc, archive := newTestService(t, api, testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	runs := archive.saved()
	require.Len(t, runs, 1)
	assert.Equal(t, res.JobID, runs[0].ID)
	assert.Equal(t, domain.JobStatusError, runs[0].Status)
	assert.Contains(t, runs[0].LastError, "interrupted")
	assert.Zero(t, svc.jobs.Len())

	_, err = svc.Start(context.Background(), alice())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestReapArchivesExpiredJobs(t *testing.T) {
	svc, archive := newTestService(t, newFakeAPI([]string{"1"}), testConfig())

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	waitTerminal(t, svc, "alice", res.JobID)

	assert.Zero(t, svc.ReapOnce(context.Background()))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, svc.ReapOnce(context.Background()))
	assert.Zero(t, svc.jobs.Len())

	// reaped jobs are still answered from the archive, for their owner only
	snap, err := svc.Status(context.Background(), "alice", res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, snap.Status)
	assert.Equal(t, 1, snap.DeletedCount)
	assert.Equal(t, 1, snap.Total)

	_, err = svc.Status(context.Background(), "bob", res.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.Status(context.Background(), "alice", "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history, err := svc.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.JobStatusDone, history[0].Status)
	assert.Equal(t, 1, history[0].Deleted)
	assert.Len(t, archive.saved(), 1)
}

func TestNewDeletionServiceClampsTimings(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), &DeletionConfig{
		PacingInterval:    -time.Second,
		RateLimitCooldown: -time.Minute,
		TransientPause:    -time.Second,
		MaxItemRetries:    -1,
	})

	assert.Equal(t, defaultRateLimitCooldown, svc.cfg.RateLimitCooldown)
	assert.Zero(t, svc.cfg.PacingInterval)
	assert.Equal(t, defaultTransientPause, svc.cfg.TransientPause)
	assert.Equal(t, defaultRetention, svc.cfg.Retention)
	assert.Zero(t, svc.cfg.MaxItemRetries)
	assert.Equal(t, defaultMaxPages, svc.cfg.MaxPages)
	assert.Equal(t, defaultPageSize, svc.cfg.PageSize)
}

func TestRateLimitWithoutCooldownStillWaits(t *testing.T) {
	api := newFakeAPI([]string{"1"})
	api.deleteFn = func(ctx context.Context, id string, attempt int) error {
		return fmt.Errorf("delete tweet 1: %w", xapi.ErrRateLimited)
	}
	cfg := testConfig()
	cfg.RateLimitCooldown = 0
	svc, _ := newTestService(t, api, cfg)

	res, err := svc.Start(context.Background(), alice())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := svc.Status(context.Background(), "alice", res.JobID)
		return snap.Status == domain.JobStatusWaitingOnRateLimit
	}, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, api.attemptsFor("1"))
}

func TestHistoryWithoutArchive(t *testing.T) {
	svc := NewDeletionService(newFakeAPI(), repository.NewJobStore(), nil, nil, testConfig())
	defer svc.Shutdown(context.Background())

	runs, err := svc.History(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunReaperStopsWithContext(t *testing.T) {
	cfg := testConfig()
	cfg.ReapInterval = 5 * time.Millisecond
	svc, _ := newTestService(t, newFakeAPI(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunReaper(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("reaper did not stop")
	}
}
