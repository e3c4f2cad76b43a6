package repository

import (
	"context"
	"fmt"
	"time"

	"video_transcoding_service/internal/transcoding/domain"

	"github.com/go-redis/redis/v8"
)

const leaseKeyPrefix = "transcode:lease:"

var (
	// only the owner may extend or drop a lease
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaseKey redis key of a job's lease
func LeaseKey(jobID string) string {
	return leaseKeyPrefix + jobID
}

// HeartbeatKey redis key of a worker's heartbeat
func HeartbeatKey(workerID string) string {
	return fmt.Sprintf("transcode:worker:%s:heartbeat", workerID)
}

// LeaseRepo definition job leases and worker heartbeats in redis
type LeaseRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewLeaseRepo create LeaseRepo
func NewLeaseRepo(client redis.UniversalClient) *LeaseRepo {
	return &LeaseRepo{client: client, now: time.Now}
}

// Acquire SET NX with ttl, false when another owner holds the lease
func (r *LeaseRepo) Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, LeaseKey(jobID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", jobID, err)
	}
	return ok, nil
}

// Refresh extend the lease, domain.ErrLeaseHeld when owner lost it
func (r *LeaseRepo) Refresh(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.client, []string{LeaseKey(jobID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh lease %s: %w", jobID, domain.ErrLeaseHeld)
	}
	return nil
}

// Release drop the lease if owner still holds it
func (r *LeaseRepo) Release(ctx context.Context, jobID, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{LeaseKey(jobID)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", jobID, err)
	}
	return nil
}

// Owner current holder of a job lease, empty when free
func (r *LeaseRepo) Owner(ctx context.Context, jobID string) (string, error) {
	owner, err := r.client.Get(ctx, LeaseKey(jobID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

// Beat write the heartbeat of workerID, it expires after ttl
func (r *LeaseRepo) Beat(ctx context.Context, workerID string, ttl time.Duration) error {
	return r.client.Set(ctx, HeartbeatKey(workerID), r.now().UTC().Format(time.RFC3339Nano), ttl).Err()
}

// Alive true while the heartbeat of workerID has not expired
func (r *LeaseRepo) Alive(ctx context.Context, workerID string) (bool, error) {
	n, err := r.client.Exists(ctx, HeartbeatKey(workerID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
