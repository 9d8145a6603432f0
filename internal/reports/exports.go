package reports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrExportNotFound is returned for unknown or expired export ids.
var ErrExportNotFound = errors.New("export not found")

// ExportState is the lifecycle of an asynchronous CSV export.
type ExportState string

const (
	ExportPending ExportState = "pending"
	ExportRunning ExportState = "running"
	ExportDone    ExportState = "done"
	ExportFailed  ExportState = "failed"
)

// ExportStatus is what GET /exports/:id reports.
type ExportStatus struct {
	ID        string      `json:"export_id"`
	QueueID   string      `json:"queue_id"`
	State     ExportState `json:"state"`
	Key       string      `json:"-"`
	Records   int         `json:"records"`
	Error     string      `json:"error,omitempty"`
	URL       string      `json:"url,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

const (
	exportKeyPrefix = "export:"
	// ExportStatusTTL bounds how long a finished export can be looked up.
	ExportStatusTTL = 24 * time.Hour
)

// ExportStatuses keeps export status in a Redis hash per export.
type ExportStatuses struct {
	client *redis.Client
	ttl    time.Duration
}

func NewExportStatuses(client *redis.Client) *ExportStatuses {
	return &ExportStatuses{client: client, ttl: ExportStatusTTL}
}

func statusKey(id string) string { return exportKeyPrefix + id }

func statusToHash(st ExportStatus) map[string]interface{} {
	return map[string]interface{}{
		"queue_id":   st.QueueID,
		"state":      string(st.State),
		"key":        st.Key,
		"records":    st.Records,
		"error":      st.Error,
		"updated_at": st.UpdatedAt.Unix(),
	}
}

func statusFromHash(id string, h map[string]string) (*ExportStatus, error) {
	if len(h) == 0 {
		return nil, ErrExportNotFound
	}
	st := &ExportStatus{
		ID:      id,
		QueueID: h["queue_id"],
		State:   ExportState(h["state"]),
		Key:     h["key"],
		Error:   h["error"],
	}
	if s := h["records"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("export %s: bad records %q", id, s)
		}
		st.Records = n
	}
	if s := h["updated_at"]; s != "" {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("export %s: bad updated_at %q", id, s)
		}
		st.UpdatedAt = time.Unix(sec, 0).UTC()
	}
	return st, nil
}

// Save writes st and refreshes its expiry.
func (s *ExportStatuses) Save(ctx context.Context, st ExportStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	key := statusKey(st.ID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, statusToHash(st))
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save export %s: %w", st.ID, err)
	}
	return nil
}

func (s *ExportStatuses) Get(ctx context.Context, id string) (*ExportStatus, error) {
	h, err := s.client.HGetAll(ctx, statusKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get export %s: %w", id, err)
	}
	return statusFromHash(id, h)
}

// ExportRecord is a finished export kept in PostgreSQL.
type ExportRecord struct {
	ID        string    `json:"export_id"`
	QueueID   string    `json:"queue_id"`
	Key       string    `json:"key"`
	Records   int       `json:"records"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportAudit records finished exports in report_exports.
type ExportAudit struct {
	pool *pgxpool.Pool
}

func NewExportAudit(pool *pgxpool.Pool) *ExportAudit {
	return &ExportAudit{pool: pool}
}

func (a *ExportAudit) Record(ctx context.Context, r ExportRecord) error {
	const q = `INSERT INTO report_exports (id, queue_id, s3_key, record_count)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`
	if _, err := a.pool.Exec(ctx, q, r.ID, r.QueueID, r.Key, r.Records); err != nil {
		return fmt.Errorf("record export %s: %w", r.ID, err)
	}
	return nil
}

// Recent lists the latest exports of a queue, newest first.
func (a *ExportAudit) Recent(ctx context.Context, queueID string, limit int) ([]ExportRecord, error) {
	const q = `SELECT id::text, queue_id, s3_key, record_count, created_at FROM report_exports
		WHERE queue_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := a.pool.Query(ctx, q, queueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()
	out := []ExportRecord{}
	for rows.Next() {
		var r ExportRecord
		if err := rows.Scan(&r.ID, &r.QueueID, &r.Key, &r.Records, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
