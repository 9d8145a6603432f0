// Package store is the record store adapter: equality queries and live
// snapshots over the mirrored upstream document collections.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/models"
)

// SnapshotFunc receives the full result set of a subscription, or the error
// that prevented loading it.
type SnapshotFunc func(docs []models.Document, err error)

// Store reads documents from PostgreSQL and announces writes on the change feed.
type Store struct {
	pool   *pgxpool.Pool
	feed   *ChangeFeed
	logger *zap.Logger
}

// New creates a document store.
func New(pool *pgxpool.Pool, feed *ChangeFeed, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, feed: feed, logger: logger}
}

// QueryCollection returns the documents of collection matching every predicate.
// limit <= 0 means no limit.
func (s *Store) QueryCollection(ctx context.Context, collection string, preds []Predicate, limit int) ([]models.Document, error) {
	q, args, err := buildQuery(collection, preds, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Data, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return docs, nil
}

// Get returns one document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	if !KnownCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	const q = `SELECT id, data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	var d models.Document
	err := s.pool.QueryRow(ctx, q, collection, id).Scan(&d.ID, &d.Data, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &d, nil
}

// Upsert stores a document and publishes a change for its collection.
func (s *Store) Upsert(ctx context.Context, collection, id string, data map[string]any) error {
	if !KnownCollection(collection) {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if data == nil {
		data = map[string]any{}
	}
	const q = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, q, collection, id, data); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	s.announce(ctx, Change{Collection: collection, ID: id, Op: ChangeUpsert})
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if !KnownCollection(collection) {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	const q = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() > 0 {
		s.announce(ctx, Change{Collection: collection, ID: id, Op: ChangeDelete})
	}
	return nil
}

func (s *Store) announce(ctx context.Context, c Change) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, c); err != nil {
		// Subscribers converge on the next change or resync.
		s.logger.Warn("publish change failed", zap.Error(err), zap.String("collection", c.Collection), zap.String("id", c.ID))
	}
}

// Subscribe delivers an initial snapshot and a fresh snapshot after every
// change to collection. Deliveries for one subscription are sequential and
// bursts of changes coalesce into one re-query. The returned function stops
// the subscription; a delivery already in progress may still complete.
func (s *Store) Subscribe(ctx context.Context, collection string, preds []Predicate, fn SnapshotFunc) (func(), error) {
	if _, _, err := buildQuery(collection, preds, 0); err != nil {
		return nil, err
	}
	if s.feed == nil {
		return nil, errors.New("store: change feed not configured")
	}

	subCtx, cancel := context.WithCancel(ctx)
	dirty := make(chan struct{}, 1)
	stopFeed, err := s.feed.Subscribe(subCtx, collection, func(Change) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer stopFeed()
		deliver := func() {
			qctx, qcancel := context.WithTimeout(subCtx, 15*time.Second)
			docs, err := s.QueryCollection(qctx, collection, preds, 0)
			qcancel()
			if subCtx.Err() != nil {
				return
			}
			fn(docs, err)
		}
		deliver()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-dirty:
				deliver()
			}
		}
	}()
	return cancel, nil
}
