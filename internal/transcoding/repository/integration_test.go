//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/database"
	"video_transcoding_service/pkg/logger"
	testtool "video_transcoding_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

var (
	redisClient redis.UniversalClient
	pgDB        *gorm.DB
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	logger.SetNewNop()

	redisContainer, redisHost, redisPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		log.Fatalf("Failed to start redis: %v", err)
	}

	pgContainer, pgHost, pgPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image: "postgres:16",
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "transcodedb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
	})
	if err != nil {
		log.Fatalf("Failed to start postgres: %v", err)
	}

	redisClient, err = database.NewRedisClient(database.RedisConnection{
		Addr:          fmt.Sprintf("%s:%s", redisHost, redisPort),
		RetryCount:    5,
		RetryInterval: 1,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	pgDB, err = database.NewPGConnection(database.Connection{
		ConnectStr:    fmt.Sprintf("postgres://test:test@%s:%s/transcodedb?sslmode=disable", pgHost, pgPort),
		RetryCount:    10,
		RetryInterval: 1,
	})
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}

	code := m.Run()

	_ = redisClient.Close()
	_ = redisContainer.Terminate(ctx)
	_ = pgContainer.Terminate(ctx)
	os.Exit(code)
}

func TestStatusRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewStatusRepo(redisClient, time.Hour)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	want := domain.JobProgress{
		JobID:        "job-status",
		SubmissionID: "sub-1",
		Status:       domain.StatusProcessing,
		Progress:     47.5,
		CurrentStep:  "transcoding 720p",
		UpdatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Set(ctx, want))

	got, err := repo.Get(ctx, "job-status")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Progress, got.Progress)
	assert.Equal(t, want.CurrentStep, got.CurrentStep)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	ttl, err := redisClient.TTL(ctx, StatusKey("job-status")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, repo.Delete(ctx, "job-status"))
	_, err = repo.Get(ctx, "job-status")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStatusRepoUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewStatusRepo(redisClient, time.Hour)
	require.NoError(t, repo.Ping(ctx))

	first := domain.JobProgress{JobID: "job-cas", SubmissionID: "sub-1", Status: domain.StatusProcessing, Progress: 10}
	require.NoError(t, repo.Update(ctx, first))

	first.Progress = 40
	require.NoError(t, repo.Update(ctx, first))

	// a resubmission takes the entry over, the older worker can no longer write
	require.NoError(t, repo.Set(ctx, domain.JobProgress{JobID: "job-cas", SubmissionID: "sub-2", Status: domain.StatusQueued}))
	first.Status = domain.StatusCompleted
	first.Progress = 100
	assert.ErrorIs(t, repo.Update(ctx, first), domain.ErrSuperseded)

	got, err := repo.Get(ctx, "job-cas")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", got.SubmissionID)
	assert.Equal(t, domain.StatusQueued, got.Status)

	require.NoError(t, repo.Update(ctx, domain.JobProgress{JobID: "job-cas", SubmissionID: "sub-2", Status: domain.StatusProcessing, Progress: 5}))
	ttl, err := redisClient.TTL(ctx, StatusKey("job-cas")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, repo.Delete(ctx, "job-cas"))
	require.NoError(t, repo.Update(ctx, first))
	got, err = repo.Get(ctx, "job-cas")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestLeaseRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewLeaseRepo(redisClient)

	ok, err := repo.Acquire(ctx, "job-lease", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, "job-lease", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Refresh(ctx, "job-lease", "worker-a", 2*time.Minute))
	assert.ErrorIs(t, repo.Refresh(ctx, "job-lease", "worker-b", time.Minute), domain.ErrLeaseHeld)

	// a stranger cannot release it
	require.NoError(t, repo.Release(ctx, "job-lease", "worker-b"))
	owner, err := repo.Owner(ctx, "job-lease")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)

	require.NoError(t, repo.Release(ctx, "job-lease", "worker-a"))
	owner, err = repo.Owner(ctx, "job-lease")
	require.NoError(t, err)
	assert.Empty(t, owner)

	ok, err = repo.Acquire(ctx, "job-lease", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	repo := NewLeaseRepo(redisClient)

	alive, err := repo.Alive(ctx, "worker-hb")
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, repo.Beat(ctx, "worker-hb", time.Second))
	alive, err = repo.Alive(ctx, "worker-hb")
	require.NoError(t, err)
	assert.True(t, alive)

	assert.Eventually(t, func() bool {
		alive, err := repo.Alive(ctx, "worker-hb")
		return err == nil && !alive
	}, 5*time.Second, 100*time.Millisecond)
}

func TestJobRecordRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRecordRepo(pgDB)
	require.NoError(t, repo.AutoMigrate())

	_, err := repo.GetByJobID(ctx, "job-rec")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	rec := &domain.JobRecord{
		JobID:      "job-rec",
		Status:     string(domain.StatusFailed),
		ErrorType:  string(domain.EncoderError),
		Attempts:   4,
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveRecord(ctx, rec))

	// a resubmission overwrites the same row
	rec.Status = string(domain.StatusCompleted)
	rec.ErrorType = ""
	rec.Qualities = "360p,720p"
	require.NoError(t, repo.SaveRecord(ctx, rec))

	got, err := repo.GetByJobID(ctx, "job-rec")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), got.Status)
	assert.Equal(t, "360p,720p", got.Qualities)

	done, err := repo.FindByStatus(ctx, domain.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "job-rec", done[0].JobID)

	failed, err := repo.FindByStatus(ctx, domain.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}
