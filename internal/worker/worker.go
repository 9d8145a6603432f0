package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/reports"
	"github.com/queue-status/backend/pkg/queue"
	"github.com/queue-status/backend/pkg/storage"
)

// DequeueTimeout is how long one poll blocks waiting for a job.
const DequeueTimeout = 5 * time.Second

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent")

type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

type ReportLoader interface {
	Load(ctx context.Context, queueID string) (*reports.Loaded, error)
}

type StatusWriter interface {
	Save(ctx context.Context, st reports.ExportStatus) error
}

type Uploader interface {
	UploadExport(ctx context.Context, key string, body io.Reader) (string, error)
}

type Auditor interface {
	Record(ctx context.Context, r reports.ExportRecord) error
}

// ExportProcessor renders queued report exports to CSV and uploads them.
type ExportProcessor struct {
	jobs     JobSource
	loader   ReportLoader
	statuses StatusWriter
	uploader Uploader
	audit    Auditor
	backoff  time.Duration
	logger   *zap.Logger
}

// NewExportProcessor creates a report export processor. audit may be nil.
func NewExportProcessor(jobs JobSource, loader ReportLoader, statuses StatusWriter, uploader Uploader, audit Auditor, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{
		jobs:     jobs,
		loader:   loader,
		statuses: statuses,
		uploader: uploader,
		audit:    audit,
		backoff:  queue.RetryBackoff,
		logger:   logger,
	}
}

// Process executes one export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReportExport {
		return fmt.Errorf("%w: unknown job type %q", errPermanent, job.Type)
	}
	var payload queue.ReportExportPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}
	if payload.ExportID == "" || payload.QueueID == "" {
		return fmt.Errorf("%w: export and queue ids required", errPermanent)
	}
	log := p.logger.With(zap.String("export_id", payload.ExportID), zap.String("queue_id", payload.QueueID))

	p.save(ctx, reports.ExportStatus{ID: payload.ExportID, QueueID: payload.QueueID, State: reports.ExportRunning})

	filter, err := reports.FilterParams{
		Mode:    payload.Mode,
		Product: payload.Product,
		Stage:   payload.Stage,
		KPI:     payload.KPI,
		Search:  payload.Search,
	}.Filter()
	if err != nil {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}

	loaded, err := p.loader.Load(ctx, payload.QueueID)
	if errors.Is(err, reports.ErrQueueNotFound) {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}
	records := filter.Apply(loaded.Report.Records)

	var buf bytes.Buffer
	if err := reconcile.WriteCSV(&buf, records); err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	key := storage.ExportKey(payload.QueueID, payload.ExportID)
	if _, err := p.uploader.UploadExport(ctx, key, &buf); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	p.save(ctx, reports.ExportStatus{
		ID:      payload.ExportID,
		QueueID: payload.QueueID,
		State:   reports.ExportDone,
		Key:     key,
		Records: len(records),
	})
	if p.audit != nil {
		rec := reports.ExportRecord{ID: payload.ExportID, QueueID: payload.QueueID, Key: key, Records: len(records)}
		if err := p.audit.Record(ctx, rec); err != nil {
			log.Warn("record export audit failed", zap.Error(err))
		}
	}
	log.Info("report export completed", zap.String("s3_key", key), zap.Int("records", len(records)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("export worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx, DequeueTimeout)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.sleep(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.fail(ctx, job, err)
		}
	}
}

func (p *ExportProcessor) fail(ctx context.Context, job *queue.Job, err error) {
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if !errors.Is(err, errPermanent) {
		if reErr := p.jobs.Retry(ctx, job); reErr != nil {
			p.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		if job.Attempt < queue.MaxRetries {
			p.markPending(ctx, job)
			p.sleep(ctx)
			return
		}
	}
	var payload queue.ReportExportPayload
	if job.DecodePayload(&payload) != nil || payload.ExportID == "" {
		return
	}
	p.save(ctx, reports.ExportStatus{
		ID:      payload.ExportID,
		QueueID: payload.QueueID,
		State:   reports.ExportFailed,
		Error:   failureMessage(err),
	})
}

// failureMessage is the client-facing reason; internal errors stay in the log.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, reports.ErrQueueNotFound):
		return reports.ErrQueueNotFound.Error()
	case errors.Is(err, errPermanent):
		return "invalid export request"
	default:
		return "export failed"
	}
}

func (p *ExportProcessor) markPending(ctx context.Context, job *queue.Job) {
	var payload queue.ReportExportPayload
	if job.DecodePayload(&payload) != nil {
		return
	}
	p.save(ctx, reports.ExportStatus{ID: payload.ExportID, QueueID: payload.QueueID, State: reports.ExportPending})
}

func (p *ExportProcessor) save(ctx context.Context, st reports.ExportStatus) {
	if err := p.statuses.Save(ctx, st); err != nil {
		p.logger.Warn("save export status failed", zap.String("export_id", st.ID), zap.String("state", string(st.State)), zap.Error(err))
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
