package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	QueueName       = "medref:provisioning"
	DelayedQueue    = "medref:provisioning:delayed"
	DeadLetterQueue = "medref:provisioning:failed"

	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 30 * time.Second
	popTimeout         = 5 * time.Second
	promoteBatch       = 100
)

// listClient is the slice of *redis.Client the queue needs.
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisQueue pushes jobs onto a Redis list and, from Run, pops and executes
// them. A failed job waits in a sorted set scored by its next run time,
// RetryDelay doubled per attempt, and moves to the dead letter list once it
// has failed MaxAttempts times.
type RedisQueue struct {
	client      listClient
	provisioner *Provisioner
	MaxAttempts int
	RetryDelay  time.Duration
	JobTimeout  time.Duration
	now         func() time.Time
}

func NewRedisQueue(client *redis.Client, p *Provisioner) *RedisQueue {
	return newRedisQueue(client, p)
}

func newRedisQueue(client listClient, p *Provisioner) *RedisQueue {
	return &RedisQueue{
		client:      client,
		provisioner: p,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		JobTimeout:  DefaultJobTimeout,
		now:         time.Now,
	}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (q *RedisQueue) Dispatch(ctx context.Context, job Job) error {
	return q.push(ctx, QueueName, job)
}

func (q *RedisQueue) push(ctx context.Context, list string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, list, b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", list, err)
	}
	return nil
}

// retryAfter is the wait before the next run of a job that has failed
// attempt times.
func (q *RedisQueue) retryAfter(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.RetryDelay << (attempt - 1)
}

func (q *RedisQueue) schedule(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	at := q.now().Add(q.retryAfter(job.Attempt))
	if err := q.client.ZAdd(ctx, DelayedQueue, &redis.Z{Score: float64(at.Unix()), Member: b}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// promoteDue moves jobs whose retry time has passed back onto the work list.
// ZREM decides ownership, so two workers never both promote the same job.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, DelayedQueue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().Unix(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, DelayedQueue, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, QueueName, member).Err(); err != nil {
			return promoted, fmt.Errorf("requeue delayed job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Ping reports whether Redis is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Run consumes jobs until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	logger := q.provisioner.logger
	logger.Info().Str("queue", QueueName).Msg("provisioning worker started")
	for {
		if ctx.Err() != nil {
			logger.Info().Msg("provisioning worker stopped")
			return nil
		}

		_, err := q.processNext(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("provisioning dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNext promotes due retries, then pops one job and runs it. It
// returns false when the pop timed out with nothing to do.
func (q *RedisQueue) processNext(ctx context.Context) (bool, error) {
	if _, err := q.promoteDue(ctx); err != nil {
		return false, err
	}

	res, err := q.client.BRPop(ctx, popTimeout, QueueName).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return true, fmt.Errorf("decode job: %w", err)
	}
	job.Attempt++

	runCtx, cancel := context.WithTimeout(ctx, q.JobTimeout)
	runErr := q.provisioner.Run(runCtx, job)
	cancel()
	if runErr == nil {
		return true, nil
	}

	q.provisioner.logFailure(job, runErr)
	if job.Attempt >= q.MaxAttempts {
		return true, q.push(ctx, DeadLetterQueue, job)
	}
	return true, q.schedule(ctx, job)
}
