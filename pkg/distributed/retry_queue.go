package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrQueueEmpty = errors.New("queue is empty")

// Job 재시도 큐 아이템. ID가 같으면 같은 작업으로 취급 (덮어씀)
type Job struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DeadJob DLQ에 쌓이는 실패 기록
type DeadJob struct {
	Job     Job       `json:"job"`
	Reason  string    `json:"reason"`
	MovedAt time.Time `json:"moved_at"`
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// pending 에서 실행 가능한(score <= now) 가장 오래된 작업을 processing 으로 옮김
var dequeueScript = redis.NewScript(`
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	redis.call('ZREM', KEYS[1], id)
	local data = redis.call('HGET', KEYS[2], id)
	if not data then
		return false
	end
	redis.call('HSET', KEYS[3], id, ARGV[1])
	return data
`)

// RetryQueue 지연 재시도 + DLQ 를 가진 Redis 작업 큐
//
// Keys:
//   <name>:pending     ZSET  id -> 실행 가능 시각(ms)
//   <name>:items       HASH  id -> Job JSON
//   <name>:processing  HASH  id -> 꺼낸 시각(ms)
//   <name>:dlq         LIST  DeadJob JSON
type RetryQueue struct {
	client        redis.UniversalClient
	pendingKey    string
	itemsKey      string
	processingKey string
	dlqKey        string
	now           func() time.Time
}

func NewRetryQueue(client redis.UniversalClient, name string) *RetryQueue {
	return &RetryQueue{
		client:        client,
		pendingKey:    fmt.Sprintf("%s:pending", name),
		itemsKey:      fmt.Sprintf("%s:items", name),
		processingKey: fmt.Sprintf("%s:processing", name),
		dlqKey:        fmt.Sprintf("%s:dlq", name),
		now:           time.Now,
	}
}

// Enqueue 즉시 실행 가능한 작업으로 추가
func (q *RetryQueue) Enqueue(ctx context.Context, job *Job) error {
	now := q.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	return q.schedule(ctx, job, now)
}

func (q *RetryQueue) schedule(ctx context.Context, job *Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.itemsKey, job.ID, data)
	pipe.HDel(ctx, q.processingKey, job.ID)
	pipe.ZAdd(ctx, q.pendingKey, redis.Z{Score: float64(at.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue 실행 가능한 작업 하나를 꺼냄. 없으면 ErrQueueEmpty
func (q *RetryQueue) Dequeue(ctx context.Context) (*Job, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.pendingKey, q.itemsKey, q.processingKey},
		q.now().UnixMilli(),
	).Text()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Complete 처리 완료된 작업 제거
func (q *RetryQueue) Complete(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.processingKey, id)
	pipe.HDel(ctx, q.itemsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Retry 실패한 작업을 backoff 후 다시 실행하도록 예약. 최대 시도 초과 시 DLQ 로 이동
func (q *RetryQueue) Retry(ctx context.Context, job *Job, cause error, backoff time.Duration) error {
	job.Attempts++
	job.UpdatedAt = q.now()
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		return q.MoveToDLQ(ctx, job, "max attempts exceeded")
	}

	return q.schedule(ctx, job, q.now().Add(backoff))
}

// MoveToDLQ 작업을 DLQ 로 이동
func (q *RetryQueue) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	data, err := json.Marshal(DeadJob{Job: *job, Reason: reason, MovedAt: q.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.dlqKey, data)
	pipe.HDel(ctx, q.processingKey, job.ID)
	pipe.HDel(ctx, q.itemsKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move job to DLQ: %w", err)
	}
	return nil
}

// RecoverStale 처리 도중 인스턴스가 죽어 processing 에 남은 작업을 다시 pending 으로
func (q *RetryQueue) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	claimed, err := q.client.HGetAll(ctx, q.processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	now := q.now()
	recovered := 0
	for id, ts := range claimed {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || now.Sub(time.UnixMilli(ms)) < staleAfter {
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.HDel(ctx, q.processingKey, id)
		pipe.ZAdd(ctx, q.pendingKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("failed to recover job %s: %w", id, err)
		}
		recovered++
	}

	return recovered, nil
}

// Drain 실행 가능한 작업을 모두 처리. handler 에러 시 backoff 후 재시도로 돌림
func (q *RetryQueue) Drain(ctx context.Context, backoff time.Duration, handler func(ctx context.Context, job *Job) error) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := q.Dequeue(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			return processed, nil
		}
		if err != nil {
			return processed, err
		}

		if herr := handler(ctx, job); herr != nil {
			if err := q.Retry(ctx, job, herr, backoff); err != nil {
				return processed, err
			}
			continue
		}

		if err := q.Complete(ctx, job.ID); err != nil {
			return processed, err
		}
		processed++
	}
}

// DeadJobs DLQ 조회 (최신순)
func (q *RetryQueue) DeadJobs(ctx context.Context, count int64) ([]DeadJob, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]DeadJob, 0, len(raw))
	for _, r := range raw {
		var dj DeadJob
		if err := json.Unmarshal([]byte(r), &dj); err != nil {
			continue
		}
		jobs = append(jobs, dj)
	}
	return jobs, nil
}

func (q *RetryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.pendingKey)
	processing := pipe.HLen(ctx, q.processingKey)
	dead := pipe.LLen(ctx, q.dlqKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &QueueStats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}
