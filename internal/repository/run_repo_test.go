package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tweetpurge/internal/config"
	"github.com/timmy/tweetpurge/internal/domain"
)

func setupRunRepository(t *testing.T) *RunRepository {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1, // every query must see the same in-memory database
		AutoMigrate:  true,
	})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewRunRepository(db)
}

func TestRunRepositorySaveAndList(t *testing.T) {
	repo := setupRunRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		finished := base.Add(time.Duration(i)*time.Hour + time.Minute)
		run := domain.NewDeletionRun(domain.DeletionJob{
			ID:           id,
			Owner:        "alice",
			Status:       domain.JobStatusDone,
			Total:        10,
			DeletedCount: 10,
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			FinishedAt:   &finished,
		})
		require.NoError(t, repo.Save(ctx, run))
	}
	require.NoError(t, repo.Save(ctx, domain.NewDeletionRun(domain.DeletionJob{
		ID: "z", Owner: "bob", Status: domain.JobStatusCanceled, StartedAt: base,
	})))

	runs, err := repo.ListByOwner(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	got, err := repo.GetByID(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCanceled, got.Status)
}

func TestRunRepositorySaveIsIdempotent(t *testing.T) {
	repo := setupRunRepository(t)
	ctx := context.Background()

	run := domain.NewDeletionRun(domain.DeletionJob{ID: "a", Owner: "alice", Status: domain.JobStatusDone, Total: 1, DeletedCount: 1, StartedAt: time.Now()})
	require.NoError(t, repo.Save(ctx, run))

	dup := domain.NewDeletionRun(domain.DeletionJob{ID: "a", Owner: "alice", Status: domain.JobStatusError, StartedAt: time.Now()})
	require.NoError(t, repo.Save(ctx, dup))

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, got.Status)
}
