package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/storetax/internal/config"
	"github.com/smallbiznis/storetax/internal/observability/metrics"
	"go.uber.org/zap"
)

const refreshTimeout = 30 * time.Second

// Refresher periodically rebuilds the snapshot so an instance that missed a
// change notification converges anyway. The job follows tax.refreshSchedule
// across config reloads.
type Refresher struct {
	cron   *cron.Cron
	loader *Loader
	taxCfg *config.TaxConfigHolder
	log    *zap.Logger

	mu        sync.Mutex
	scheduled bool
	schedule  string
	entry     cron.EntryID
}

func NewRefresher(loader *Loader, taxCfg *config.TaxConfigHolder, log *zap.Logger) *Refresher {
	log = log.Named("tax.catalog.refresher")
	cronLog := cronLogger{log: log.Sugar()}
	return &Refresher{
		cron:   cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		loader: loader,
		taxCfg: taxCfg,
		log:    log,
	}
}

// Start registers the refresh job. An empty schedule disables refreshing.
func (r *Refresher) Start(context.Context) error {
	if err := r.reschedule(r.taxCfg.Get().RefreshSchedule); err != nil {
		return err
	}
	r.taxCfg.OnChange(func(cfg config.TaxConfig) {
		if err := r.reschedule(cfg.RefreshSchedule); err != nil {
			r.log.Warn("catalog refresh schedule not changed", zap.String("schedule", cfg.RefreshSchedule), zap.Error(err))
		}
	})
	r.cron.Start()
	return nil
}

// Schedule returns the schedule the refresh job currently runs on.
func (r *Refresher) Schedule() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedule
}

// reschedule swaps the job for one on schedule. The old job stays when the
// new schedule does not parse.
func (r *Refresher) reschedule(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scheduled && schedule == r.schedule {
		return nil
	}

	var entry cron.EntryID
	if schedule != "" {
		id, err := r.cron.AddFunc(schedule, r.refresh)
		if err != nil {
			return err
		}
		entry = id
	}
	if r.entry != 0 {
		r.cron.Remove(r.entry)
	}
	r.entry, r.schedule, r.scheduled = entry, schedule, true

	if schedule == "" {
		r.log.Info("catalog refresh disabled")
	} else {
		r.log.Info("scheduled catalog refresh", zap.String("schedule", schedule))
	}
	return nil
}

// Stop waits for a running refresh to finish or ctx to expire.
func (r *Refresher) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	_, _ = r.loader.Reload(ctx, metrics.CatalogReloadTriggerSchedule)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
