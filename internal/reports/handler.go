package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/middleware"
	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/pkg/queue"
	"github.com/queue-status/backend/pkg/response"
)

const msgLoadFailed = "failed to load report"

// ExportQueue hands export jobs to the worker.
type ExportQueue interface {
	EnqueueReportExport(ctx context.Context, payload queue.ReportExportPayload) (*queue.Job, error)
}

// StatusStore tracks asynchronous exports.
type StatusStore interface {
	Save(ctx context.Context, st ExportStatus) error
	Get(ctx context.Context, id string) (*ExportStatus, error)
}

// Presigner turns an export object key into a download URL.
type Presigner interface {
	PresignedExportURL(ctx context.Context, key string) (string, error)
}

// AuditLog lists finished exports.
type AuditLog interface {
	Recent(ctx context.Context, queueID string, limit int) ([]ExportRecord, error)
}

// Exports bundles the optional export collaborators. A nil Queue disables
// asynchronous exports.
type Exports struct {
	Queue     ExportQueue
	Statuses  StatusStore
	Presigner Presigner
	Audit     AuditLog
}

// Handler serves the report endpoints.
type Handler struct {
	loader   *Loader
	exports  Exports
	pageSize int
	logger   *zap.Logger
}

func NewHandler(loader *Loader, exports Exports, pageSize int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = reconcile.DefaultPageSize
	}
	return &Handler{loader: loader, exports: exports, pageSize: pageSize, logger: logger}
}

// ListQueues handles GET /queues. The body is the bare queue array.
func (h *Handler) ListQueues(c *gin.Context) {
	queues, err := h.loader.ListQueues(c.Request.Context())
	if err != nil {
		h.logger.Error("list queues failed", zap.Error(err))
		response.Internal(c, "failed to fetch queues")
		return
	}
	c.JSON(http.StatusOK, SearchQueues(queues, c.Query("q")))
}

type legacySummary struct {
	RecordsReported    int `json:"recordsReported"`
	ValidationFailures int `json:"validationFailures"`
}

type legacyReport struct {
	QueueName          string                `json:"queuename"`
	Records            []models.JoinedRecord `json:"records"`
	ValidationFailures []models.JoinedRecord `json:"validationFailures"`
	Summary            legacySummary         `json:"summary"`
}

// QueueReport handles GET /queue-report/:queueId.
func (h *Handler) QueueReport(c *gin.Context) {
	loaded, ok := h.load(c, c.Param("queueId"))
	if !ok {
		return
	}
	failures := loaded.Report.Failures()
	if failures == nil {
		failures = []models.JoinedRecord{}
	}
	records := loaded.Report.Records
	if records == nil {
		records = []models.JoinedRecord{}
	}
	c.JSON(http.StatusOK, legacyReport{
		QueueName:          loaded.Queue.QueueName,
		Records:            records,
		ValidationFailures: failures,
		Summary: legacySummary{
			RecordsReported:    len(records),
			ValidationFailures: len(failures),
		},
	})
}

// Dashboard handles GET /queues/:id/dashboard: summary, filter options and one page.
func (h *Handler) Dashboard(c *gin.Context) {
	req, err := ParseViewRequest(c.Request.URL.Query(), h.pageSize)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	loaded, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	response.OK(c, loaded.Report.View(req))
}

// DownloadCSV handles GET /queues/:id/report.csv with the dashboard filters applied.
func (h *Handler) DownloadCSV(c *gin.Context) {
	f, err := FilterParamsFromQuery(c.Request.URL.Query()).Filter()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	loaded, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	records := f.Apply(loaded.Report.Records)
	filename := fmt.Sprintf("queue-report-%s-%s.csv", loaded.Queue.ID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := reconcile.WriteCSV(c.Writer, records); err != nil {
		h.logger.Warn("csv write failed", zap.Error(err), zap.String("queue_id", loaded.Queue.ID))
	}
}

// CreateExport handles POST /queues/:id/exports. The export runs in the worker.
func (h *Handler) CreateExport(c *gin.Context) {
	if h.exports.Queue == nil || h.exports.Statuses == nil {
		response.ServiceUnavailable(c, "exports not configured")
		return
	}
	var params FilterParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if _, err := params.Filter(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	queueID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.loader.Queue(ctx, queueID); err != nil {
		h.writeLoadError(c, queueID, err)
		return
	}

	st := ExportStatus{ID: uuid.New().String(), QueueID: queueID, State: ExportPending}
	if err := h.exports.Statuses.Save(ctx, st); err != nil {
		h.logger.Error("save export status failed", zap.Error(err), zap.String("queue_id", queueID))
		response.Internal(c, "failed to create export")
		return
	}
	userID, _ := middleware.GetUserID(c)
	_, err := h.exports.Queue.EnqueueReportExport(ctx, queue.ReportExportPayload{
		ExportID:    st.ID,
		QueueID:     queueID,
		Mode:        params.Mode,
		Product:     params.Product,
		Stage:       params.Stage,
		KPI:         params.KPI,
		Search:      params.Search,
		RequestedBy: userID,
	})
	if err != nil {
		h.logger.Error("enqueue export failed", zap.Error(err), zap.String("export_id", st.ID))
		st.State, st.Error = ExportFailed, "enqueue failed"
		_ = h.exports.Statuses.Save(ctx, st)
		response.Internal(c, "failed to create export")
		return
	}
	response.Accepted(c, gin.H{"export_id": st.ID, "state": st.State})
}

// GetExport handles GET /exports/:id. Finished exports carry a pre-signed URL.
func (h *Handler) GetExport(c *gin.Context) {
	if h.exports.Statuses == nil {
		response.ServiceUnavailable(c, "exports not configured")
		return
	}
	ctx := c.Request.Context()
	st, err := h.exports.Statuses.Get(ctx, c.Param("id"))
	if errors.Is(err, ErrExportNotFound) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		h.logger.Error("get export failed", zap.Error(err))
		response.Internal(c, "failed to get export")
		return
	}
	if st.State == ExportDone && st.Key != "" && h.exports.Presigner != nil {
		url, err := h.exports.Presigner.PresignedExportURL(ctx, st.Key)
		if err != nil {
			h.logger.Error("presign export failed", zap.Error(err), zap.String("export_id", st.ID))
			response.Internal(c, "failed to sign download url")
			return
		}
		st.URL = url
	}
	response.OK(c, st)
}

// ListExports handles GET /queues/:id/exports.
func (h *Handler) ListExports(c *gin.Context) {
	if h.exports.Audit == nil {
		response.ServiceUnavailable(c, "exports not configured")
		return
	}
	recent, err := h.exports.Audit.Recent(c.Request.Context(), c.Param("id"), 20)
	if err != nil {
		h.logger.Error("list exports failed", zap.Error(err))
		response.Internal(c, "failed to list exports")
		return
	}
	response.OK(c, recent)
}

func (h *Handler) load(c *gin.Context, queueID string) (*Loaded, bool) {
	loaded, err := h.loader.Load(c.Request.Context(), queueID)
	if err != nil {
		h.writeLoadError(c, queueID, err)
		return nil, false
	}
	return loaded, true
}

// writeLoadError never exposes partial data or store errors.
func (h *Handler) writeLoadError(c *gin.Context, queueID string, err error) {
	if errors.Is(err, ErrQueueNotFound) {
		response.NotFound(c, "queue not found")
		return
	}
	h.logger.Error("load report failed", zap.Error(err), zap.String("queue_id", queueID))
	response.Internal(c, msgLoadFailed)
}
