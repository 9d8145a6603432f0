package live

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Registry tracks the drivers of connected consumers so they can be resynced
// together.
type Registry struct {
	mu      sync.Mutex
	drivers map[*Driver]struct{}
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{drivers: make(map[*Driver]struct{}), logger: logger}
}

func (r *Registry) Add(d *Driver) {
	r.mu.Lock()
	r.drivers[d] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) Remove(d *Driver) {
	r.mu.Lock()
	delete(r.drivers, d)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drivers)
}

// ResyncAll resyncs every registered driver and returns how many failed.
func (r *Registry) ResyncAll(ctx context.Context) int {
	r.mu.Lock()
	drivers := make([]*Driver, 0, len(r.drivers))
	for d := range r.drivers {
		drivers = append(drivers, d)
	}
	r.mu.Unlock()

	failed := 0
	for _, d := range drivers {
		if ctx.Err() != nil {
			break
		}
		if err := d.Resync(ctx); err != nil && !errors.Is(err, ErrClosed) {
			failed++
			r.logger.Warn("resync failed", zap.String("queue_id", d.QueueID()), zap.Error(err))
		}
	}
	return failed
}
