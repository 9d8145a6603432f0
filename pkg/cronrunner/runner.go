package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules background jobs. A job that is still running when its
// next tick fires is skipped, and panics are recovered and logged.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := cronLogger{logger}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under spec ("@every 1m", "*/5 * * * *", ...). Each run
// gets a context bounded by timeout when timeout > 0.
func (r *Runner) Add(name, spec string, timeout time.Duration, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		ctx := r.baseCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		job(ctx)
		r.logger.Debug("cron job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
}

// Entries returns the number of scheduled jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", r.Entries()))
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, zap.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
