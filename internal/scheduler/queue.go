// Package scheduler is a delayed job queue kept in a Redis sorted set scored
// by due time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKey   = "giftshop:jobs"
	retryDelay   = time.Minute
	claimBatch   = 50
	defaultEvery = 5 * time.Second
)

const JobFeedbackEmail = "feedback_email"

// Job identifies work by kind and reference, e.g. feedback_email for an
// order number. Kind and Ref together are unique in the queue.
type Job struct {
	Kind  string
	Ref   string
	RunAt time.Time
}

func (j Job) member() string {
	return j.Kind + ":" + j.Ref
}

func parseMember(member string, score float64) (Job, error) {
	kind, ref, ok := strings.Cut(member, ":")
	if !ok {
		return Job{}, fmt.Errorf("malformed job %q", member)
	}
	return Job{Kind: kind, Ref: ref, RunAt: time.UnixMilli(int64(score))}, nil
}

type HandlerFunc func(ctx context.Context, job Job) error

type Queue struct {
	client       redis.Cmdable
	key          string
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewQueue(client redis.Cmdable, pollInterval time.Duration, logger *slog.Logger) *Queue {
	if pollInterval <= 0 {
		pollInterval = defaultEvery
	}
	return &Queue{
		client:       client,
		key:          defaultKey,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}
}

// Schedule enqueues job. Scheduling the same kind and ref again moves the
// existing entry to the new time.
func (q *Queue) Schedule(ctx context.Context, job Job) error {
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.member(),
	}).Err()
}

// ScheduleOnce enqueues job unless the same kind and ref is already waiting,
// in which case the existing due time is kept. It reports whether job was
// added.
func (q *Queue) ScheduleOnce(ctx context.Context, job Job) (bool, error) {
	added, err := q.client.ZAddNX(ctx, q.key, redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.member(),
	}).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

// Due claims up to limit jobs whose time has come. A job is handed to exactly
// one caller: whoever removes it from the set owns it.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	entries, err := q.client.ZRangeByScoreWithScores(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	var claimed []Job
	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}

		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return claimed, err
		}
		if removed == 0 {
			continue
		}

		job, err := parseMember(member, entry.Score)
		if err != nil {
			q.logger.Warn("dropping malformed job", "error", err)
			continue
		}
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// Run polls for due jobs until ctx is done. A job whose handler fails is
// rescheduled after a delay, so handlers must re-check their preconditions.
func (q *Queue) Run(ctx context.Context, handle HandlerFunc) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.runDue(ctx, handle)
		}
	}
}

func (q *Queue) runDue(ctx context.Context, handle HandlerFunc) {
	jobs, err := q.Due(ctx, q.now(), claimBatch)
	if err != nil {
		q.logger.Error("failed to claim due jobs", "error", err)
	}

	for _, job := range jobs {
		if err := handle(ctx, job); err != nil {
			q.logger.Error("job failed", "error", err, "kind", job.Kind, "ref", job.Ref)

			job.RunAt = q.now().Add(retryDelay)
			if err := q.Schedule(ctx, job); err != nil {
				q.logger.Error("failed to reschedule job", "error", err, "kind", job.Kind, "ref", job.Ref)
			}
			continue
		}
		q.logger.Info("job completed", "kind", job.Kind, "ref", job.Ref)
	}
}
