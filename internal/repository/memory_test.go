package repository

import (
	"context"
	"testing"
	"time"

	"zapys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionRepository(t *testing.T) {
	repo := NewMemorySessionRepository(24 * time.Hour)
	now := time.Date(2025, 11, 16, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	session := &models.Session{UserID: 1, Step: models.StepCollectingName, UpdatedAt: now}
	require.NoError(t, repo.SaveSession(ctx, session))

	got, err := repo.GetSession(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StepCollectingName, got.Step)

	// callers get a copy
	got.Step = models.StepCollectingGender
	again, _ := repo.GetSession(ctx, 1)
	assert.Equal(t, models.StepCollectingName, again.Step)

	now = now.Add(25 * time.Hour)
	got, err = repo.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "idle session expires")

	require.NoError(t, repo.SaveSession(ctx, &models.Session{UserID: 2, Step: models.StepCollectingDate}))
	require.NoError(t, repo.ClearSession(ctx, 2))
	got, _ = repo.GetSession(ctx, 2)
	assert.Nil(t, got)
}

func TestMemoryReap(t *testing.T) {
	repo := NewMemorySessionRepository(time.Hour)
	now := time.Date(2025, 11, 16, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, &models.Session{UserID: 1, UpdatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, repo.SaveSession(ctx, &models.Session{UserID: 2, UpdatedAt: now}))

	assert.Equal(t, 1, repo.Reap())
	got, _ := repo.GetSession(ctx, 2)
	assert.NotNil(t, got)
}

func TestMemoryRateLimit(t *testing.T) {
	repo := NewMemorySessionRepository(time.Hour)
	now := time.Date(2025, 11, 16, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := repo.CheckRateLimit(ctx, 5, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := repo.CheckRateLimit(ctx, 5, 3, time.Minute)
	assert.False(t, allowed)

	now = now.Add(61 * time.Second)
	allowed, _ = repo.CheckRateLimit(ctx, 5, 3, time.Minute)
	assert.True(t, allowed)
}
