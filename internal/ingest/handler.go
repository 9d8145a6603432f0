// Package ingest mirrors upstream documents into the record store.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/store"
	"github.com/queue-status/backend/pkg/response"
)

// HeaderSecret carries the shared webhook secret.
const HeaderSecret = "X-Webhook-Secret"

// MaxBatch bounds one batch request.
const MaxBatch = 500

// DocumentWriter is the write side of the record store.
type DocumentWriter interface {
	Upsert(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Handler receives document changes from the upstream system.
type Handler struct {
	store  DocumentWriter
	secret string
	logger *zap.Logger
}

func NewHandler(s DocumentWriter, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: s, secret: secret, logger: logger}
}

// RequireSecret rejects requests without the shared secret. An empty
// configured secret disables the webhook entirely.
func (h *Handler) RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.secret == "" {
			response.ServiceUnavailable(c, "webhook not configured")
			return
		}
		got := c.GetHeader(HeaderSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			response.Unauthorized(c, "invalid webhook secret")
			return
		}
		c.Next()
	}
}

// Put handles PUT /webhooks/documents/:collection/:id. The body is the full document.
func (h *Handler) Put(c *gin.Context) {
	collection, id, ok := pathParams(c)
	if !ok {
		return
	}
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		response.BadRequest(c, "invalid request: body must be a JSON object")
		return
	}
	if err := h.store.Upsert(c.Request.Context(), collection, id, data); err != nil {
		h.writeError(c, "upsert", collection, id, err)
		return
	}
	response.NoContent(c)
}

// Delete handles DELETE /webhooks/documents/:collection/:id.
func (h *Handler) Delete(c *gin.Context) {
	collection, id, ok := pathParams(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), collection, id); err != nil {
		h.writeError(c, "delete", collection, id, err)
		return
	}
	response.NoContent(c)
}

// BatchRequest is the body of POST /webhooks/documents/:collection.
type BatchRequest struct {
	Documents []BatchDocument `json:"documents" binding:"required"`
}

// BatchDocument is one upsert, or a delete when Deleted is set.
type BatchDocument struct {
	ID      string         `json:"id"`
	Data    map[string]any `json:"data"`
	Deleted bool           `json:"deleted,omitempty"`
}

// Batch applies many changes to one collection, stopping at the first failure.
func (h *Handler) Batch(c *gin.Context) {
	collection := c.Param("collection")
	if !store.KnownCollection(collection) {
		response.NotFound(c, "unknown collection")
		return
	}
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Documents) > MaxBatch {
		response.BadRequest(c, "too many documents")
		return
	}
	for _, d := range req.Documents {
		if strings.TrimSpace(d.ID) == "" {
			response.BadRequest(c, "document id required")
			return
		}
	}
	ctx := c.Request.Context()
	applied := 0
	for _, d := range req.Documents {
		var err error
		if d.Deleted {
			err = h.store.Delete(ctx, collection, d.ID)
		} else {
			err = h.store.Upsert(ctx, collection, d.ID, d.Data)
		}
		if err != nil {
			h.writeError(c, "batch", collection, d.ID, err)
			return
		}
		applied++
	}
	response.OK(c, gin.H{"applied": applied})
}

func pathParams(c *gin.Context) (collection, id string, ok bool) {
	collection, id = c.Param("collection"), strings.TrimSpace(c.Param("id"))
	if !store.KnownCollection(collection) {
		response.NotFound(c, "unknown collection")
		return "", "", false
	}
	if id == "" {
		response.BadRequest(c, "document id required")
		return "", "", false
	}
	return collection, id, true
}

func (h *Handler) writeError(c *gin.Context, op, collection, id string, err error) {
	if errors.Is(err, store.ErrUnknownCollection) {
		response.NotFound(c, "unknown collection")
		return
	}
	h.logger.Error("ingest failed", zap.String("op", op), zap.String("collection", collection), zap.String("id", id), zap.Error(err))
	response.Internal(c, "failed to store document")
}
