package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueExports is the Redis list key for report export jobs.
	QueueExports = "worker:exports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReportExport JobType = "report_export"
)

// ReportExportPayload asks the worker to render one queue report as CSV.
// The filter fields use the same encoding as the dashboard query string.
type ReportExportPayload struct {
	ExportID    string `json:"export_id"`
	QueueID     string `json:"queue_id"`
	Mode        string `json:"mode,omitempty"`
	Product     string `json:"product,omitempty"`
	Stage       string `json:"stage,omitempty"`
	KPI         string `json:"kpi,omitempty"`
	Search      string `json:"search,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

func newJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// retryKey picks where a failed job goes after its attempt was counted.
func retryKey(job *Job) string {
	if job.Attempt >= MaxRetries {
		return QueueDLQ
	}
	return QueueExports
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueReportExport enqueues a report export job.
func (q *Queue) EnqueueReportExport(ctx context.Context, payload ReportExportPayload) (*Job, error) {
	job, err := newJob(JobTypeReportExport, payload)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueExports, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued report export job",
		zap.String("job_id", job.ID),
		zap.String("export_id", payload.ExportID),
		zap.String("queue_id", payload.QueueID))
	return job, nil
}

// Dequeue blocks up to timeout for a job. It returns (nil, nil) when nothing
// arrived or the entry was not a valid job.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueExports).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := retryKey(job)
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		q.logger.Error("requeue failed", zap.Error(err), zap.String("job_id", job.ID), zap.String("key", key))
		return err
	}
	if key == QueueDLQ {
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Pending returns the number of queued export jobs.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueExports).Result()
}
