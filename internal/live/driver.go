// Package live keeps a queue report current while its source collections change.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/store"
)

var (
	// ErrLoadFailed is what consumers see for any source failure.
	ErrLoadFailed = errors.New("failed to load report")
	// ErrClosed is returned by a driver after Close.
	ErrClosed = errors.New("live driver closed")
)

// Source is the record store as seen by the driver.
type Source interface {
	QueryCollection(ctx context.Context, collection string, preds []store.Predicate, limit int) ([]models.Document, error)
	Subscribe(ctx context.Context, collection string, preds []store.Predicate, fn store.SnapshotFunc) (func(), error)
}

type sourceKind int

const (
	kindTokens sourceKind = iota
	kindProducts
	kindParticipations
	kindArena
	numKinds
)

type binding struct {
	collection string
	queueField string // empty: unfiltered
	subscribed bool
}

var bindings = [numKinds]binding{
	kindTokens:         {collection: models.CollectionTokens, queueField: "queueref", subscribed: true},
	kindProducts:       {collection: models.CollectionParticipantProducts, queueField: "eventref", subscribed: true},
	kindParticipations: {collection: models.CollectionEventParticipations, subscribed: true},
	kindArena:          {collection: models.CollectionArenaEvents, queueField: "eventref"},
}

func (b binding) predicates(queueID string) []store.Predicate {
	if b.queueField == "" {
		return nil
	}
	return []store.Predicate{store.Eq(b.queueField, queueID)}
}

// Update is one recomputed report, or the failure that replaced it.
type Update struct {
	QueueID    string
	Generation uint64
	Report     reconcile.Report
	Err        error
}

// Driver holds the snapshots of one selected queue and recomputes its report
// whenever any of them changes. Each consumer owns its own driver.
type Driver struct {
	src       Source
	validator *reconcile.Validator
	onUpdate  func(Update)
	logger    *zap.Logger

	mu      sync.Mutex
	gen     uint64 // bumped on every Select
	version uint64 // bumped on every accepted snapshot
	queueID string
	cancels []func()
	snaps   [numKinds][]models.Document
	have    [numKinds]bool
	failed  bool
	report  reconcile.Report
	lastErr error
	closed  bool

	dirty chan struct{}
	done  chan struct{}
}

// NewDriver starts a driver. onUpdate is called from a single goroutine, one
// update at a time.
func NewDriver(src Source, v *reconcile.Validator, onUpdate func(Update), logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = reconcile.NewValidator()
	}
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	d := &Driver{
		src:       src,
		validator: v,
		onUpdate:  onUpdate,
		logger:    logger,
		dirty:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.loop()
	return d
}

// Select switches the driver to queueID. Subscriptions of the previous
// selection are detached first and anything they still deliver is dropped.
// An empty queueID just detaches.
func (d *Driver) Select(ctx context.Context, queueID string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.gen++
	gen := d.gen
	d.detachLocked()
	d.queueID = queueID
	d.report = emptyReport(queueID)
	d.lastErr = nil
	d.mu.Unlock()

	if queueID == "" {
		return nil
	}

	arena := bindings[kindArena]
	docs, err := d.src.QueryCollection(ctx, arena.collection, arena.predicates(queueID), 0)
	d.accept(gen, kindArena, docs, err)
	if err != nil {
		return fmt.Errorf("load %s: %w", arena.collection, err)
	}

	for kind := sourceKind(0); kind < numKinds; kind++ {
		b := bindings[kind]
		if !b.subscribed {
			continue
		}
		kind := kind
		cancel, err := d.src.Subscribe(ctx, b.collection, b.predicates(queueID), func(docs []models.Document, err error) {
			d.accept(gen, kind, docs, err)
		})
		if err != nil {
			d.accept(gen, kind, nil, err)
			return fmt.Errorf("subscribe %s: %w", b.collection, err)
		}
		if !d.track(gen, cancel) {
			// Superseded while subscribing.
			return nil
		}
	}
	d.logger.Debug("queue selected", zap.String("queue_id", queueID), zap.Uint64("generation", gen))
	return nil
}

// Resync re-queries every source of the current selection. It covers change
// notifications lost by the feed.
func (d *Driver) Resync(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	gen, queueID := d.gen, d.queueID
	d.mu.Unlock()
	if queueID == "" {
		return nil
	}

	for kind := sourceKind(0); kind < numKinds; kind++ {
		b := bindings[kind]
		docs, err := d.src.QueryCollection(ctx, b.collection, b.predicates(queueID), 0)
		if !d.accept(gen, kind, docs, err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("resync %s: %w", b.collection, err)
		}
	}
	return nil
}

// QueueID returns the selected queue.
func (d *Driver) QueueID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueID
}

// Generation identifies the current selection. Updates carrying an older
// generation belong to a queue the consumer has since switched away from.
func (d *Driver) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Report returns the latest report of the selected queue and, if the last
// load failed, ErrLoadFailed.
func (d *Driver) Report() (reconcile.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.report, d.lastErr
}

// Close detaches all subscriptions and stops the driver.
func (d *Driver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.gen++
	d.detachLocked()
	d.mu.Unlock()
	close(d.done)
}

func (d *Driver) detachLocked() {
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
	d.snaps = [numKinds][]models.Document{}
	d.have = [numKinds]bool{}
	d.failed = false
}

func (d *Driver) track(gen uint64, cancel func()) bool {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		cancel()
		return false
	}
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()
	return true
}

// accept stores a snapshot for generation gen. It reports false when gen is
// no longer current and the snapshot was dropped.
func (d *Driver) accept(gen uint64, kind sourceKind, docs []models.Document, err error) bool {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return false
	}
	d.version++
	if err != nil {
		d.logger.Warn("snapshot load failed",
			zap.String("queue_id", d.queueID),
			zap.String("collection", bindings[kind].collection),
			zap.Error(err))
		d.snaps[kind] = nil
		d.have[kind] = false
		d.failed = true
	} else {
		d.snaps[kind] = docs
		d.have[kind] = true
	}
	d.mu.Unlock()

	select {
	case d.dirty <- struct{}{}:
	default:
	}
	return true
}

func (d *Driver) loop() {
	for {
		select {
		case <-d.done:
			return
		case <-d.dirty:
		}
		if upd, ok := d.recompute(); ok {
			d.onUpdate(upd)
		}
	}
}

// recompute runs one pass over the current snapshots. A pass whose inputs
// changed before it finished is discarded; the pending signal starts the next.
func (d *Driver) recompute() (Update, bool) {
	d.mu.Lock()
	gen, version, queueID := d.gen, d.version, d.queueID
	if d.closed || queueID == "" {
		d.mu.Unlock()
		return Update{}, false
	}
	if d.failed {
		d.failed = false
		d.report = emptyReport(queueID)
		d.lastErr = ErrLoadFailed
		upd := Update{QueueID: queueID, Generation: gen, Report: d.report, Err: ErrLoadFailed}
		d.mu.Unlock()
		return upd, true
	}
	for _, ok := range d.have {
		if !ok {
			d.mu.Unlock()
			return Update{}, false
		}
	}
	snaps := d.snaps
	d.mu.Unlock()

	src := reconcile.Sources{
		Tokens:              models.TokensFromDocuments(snaps[kindTokens]),
		ParticipantProducts: models.ParticipantProductsFromDocuments(snaps[kindProducts]),
		EventParticipations: models.EventParticipationsFromDocuments(snaps[kindParticipations]),
		ArenaEvents:         models.ArenaEventsFromDocuments(snaps[kindArena]),
	}
	report := reconcile.ComputeReport(queueID, src, d.validator)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.version != version {
		return Update{}, false
	}
	d.report = report
	d.lastErr = nil
	return Update{QueueID: queueID, Generation: gen, Report: report}, true
}

func emptyReport(queueID string) reconcile.Report {
	return reconcile.ComputeReport(queueID, reconcile.Sources{}, nil)
}
