package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/database"

	"github.com/go-redis/redis/v8"
)

const statusKeyPrefix = "transcode:job:"

// updateScript write ARGV[2] unless the stored entry belongs to another submission.
// ARGV[1] submission id, ARGV[3] ttl in ms, 0 keeps the key forever
var updateScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and ARGV[1] ~= "" then
	local ok, entry = pcall(cjson.decode, cur)
	if ok and type(entry) == "table" and type(entry.submission_id) == "string"
		and entry.submission_id ~= "" and entry.submission_id ~= ARGV[1] then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1`)

// StatusKey redis key of a job's progress entry
func StatusKey(jobID string) string {
	return statusKeyPrefix + jobID
}

// StatusRepo definition job progress in redis, one JSON value per job
type StatusRepo struct {
	client redis.UniversalClient
	repo   database.RedisRepository[domain.JobProgress]
	ttl    time.Duration
}

// NewStatusRepo ttl is the retention of an entry after its last write, zero keeps it forever
func NewStatusRepo(client redis.UniversalClient, ttl time.Duration) *StatusRepo {
	return &StatusRepo{
		client: client,
		repo:   database.NewRedisRepository[domain.JobProgress](client),
		ttl:    ttl,
	}
}

// Set overwrite the entry of p.JobID
func (r *StatusRepo) Set(ctx context.Context, p domain.JobProgress) error {
	return r.repo.Set(ctx, StatusKey(p.JobID), p, r.ttl)
}

// Update compare-and-set on the submission id, domain.ErrSuperseded when a newer
// submission owns the entry
func (r *StatusRepo) Update(ctx context.Context, p domain.JobProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal status of %s: %w", p.JobID, err)
	}
	n, err := updateScript.Run(ctx, r.client, []string{StatusKey(p.JobID)}, p.SubmissionID, data, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("update status of %s: %w", p.JobID, err)
	}
	if n == 0 {
		return domain.ErrSuperseded
	}
	return nil
}

// Ping check redis answers
func (r *StatusRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get domain.ErrJobNotFound when the entry does not exist or expired
func (r *StatusRepo) Get(ctx context.Context, jobID string) (domain.JobProgress, error) {
	p, err := r.repo.Get(ctx, StatusKey(jobID))
	if errors.Is(err, database.ErrNil) {
		return p, domain.ErrJobNotFound
	}
	return p, err
}

// Delete drop a job's entry
func (r *StatusRepo) Delete(ctx context.Context, jobID string) error {
	return r.repo.Del(ctx, StatusKey(jobID))
}
