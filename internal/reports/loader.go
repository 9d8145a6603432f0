// Package reports loads queue reports on demand and serves them over HTTP.
package reports

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/store"
)

// ErrQueueNotFound is returned for queue ids with no queue definition.
var ErrQueueNotFound = errors.New("queue not found")

// Store is the read side of the record store.
type Store interface {
	Get(ctx context.Context, collection, id string) (*models.Document, error)
	QueryCollection(ctx context.Context, collection string, preds []store.Predicate, limit int) ([]models.Document, error)
}

// Loaded is a queue together with its freshly computed report.
type Loaded struct {
	Queue  models.Queue
	Report reconcile.Report
}

// Loader computes reports from a single consistent read of every source.
type Loader struct {
	store     Store
	validator *reconcile.Validator
	logger    *zap.Logger
}

func NewLoader(s Store, v *reconcile.Validator, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = reconcile.NewValidator()
	}
	return &Loader{store: s, validator: v, logger: logger}
}

// Validator returns the rule set reports are computed with.
func (l *Loader) Validator() *reconcile.Validator { return l.validator }

// ListQueues returns every queue, latest end date first.
func (l *Loader) ListQueues(ctx context.Context) ([]models.Queue, error) {
	docs, err := l.store.QueryCollection(ctx, models.CollectionQueues, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	queues := make([]models.Queue, 0, len(docs))
	for _, d := range docs {
		queues = append(queues, models.QueueFromDocument(d))
	}
	SortQueues(queues)
	return queues, nil
}

// Queue returns one queue definition.
func (l *Loader) Queue(ctx context.Context, queueID string) (models.Queue, error) {
	doc, err := l.store.Get(ctx, models.CollectionQueues, queueID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Queue{}, ErrQueueNotFound
	}
	if err != nil {
		return models.Queue{}, fmt.Errorf("get queue %s: %w", queueID, err)
	}
	return models.QueueFromDocument(*doc), nil
}

// Load reads the queue and all of its sources, then computes the report.
// A queue without tokens yields an empty report.
func (l *Loader) Load(ctx context.Context, queueID string) (*Loaded, error) {
	q, err := l.Queue(ctx, queueID)
	if err != nil {
		return nil, err
	}

	byQueue := func(field string) []store.Predicate {
		return []store.Predicate{store.Eq(field, queueID)}
	}
	tokens, err := l.store.QueryCollection(ctx, models.CollectionTokens, byQueue("queueref"), 0)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	src := reconcile.Sources{Tokens: models.TokensFromDocuments(tokens)}
	if len(tokens) > 0 {
		pps, err := l.store.QueryCollection(ctx, models.CollectionParticipantProducts, byQueue("eventref"), 0)
		if err != nil {
			return nil, fmt.Errorf("load participant products: %w", err)
		}
		eps, err := l.store.QueryCollection(ctx, models.CollectionEventParticipations, nil, 0)
		if err != nil {
			return nil, fmt.Errorf("load event participations: %w", err)
		}
		arena, err := l.store.QueryCollection(ctx, models.CollectionArenaEvents, byQueue("eventref"), 0)
		if err != nil {
			return nil, fmt.Errorf("load arena events: %w", err)
		}
		src.ParticipantProducts = models.ParticipantProductsFromDocuments(pps)
		src.EventParticipations = models.EventParticipationsFromDocuments(eps)
		src.ArenaEvents = models.ArenaEventsFromDocuments(arena)
	}

	report := reconcile.ComputeReport(queueID, src, l.validator)
	l.logger.Debug("report computed",
		zap.String("queue_id", queueID),
		zap.Int("records", report.Summary.Total),
		zap.Int("failed", report.Summary.Failed))
	return &Loaded{Queue: q, Report: report}, nil
}
