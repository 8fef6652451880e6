package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/observability/logger"
	"github.com/smallbiznis/storetax/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type LoaderParams struct {
	fx.In

	Repo    taxdomain.Repository
	Store   *Store
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.TaxMetrics `optional:"true"`
}

// Loader rebuilds the snapshot from persistent storage.
type Loader struct {
	repo    taxdomain.Repository
	store   *Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.TaxMetrics

	// serializes rebuilds so versions follow read order
	mu sync.Mutex
}

func NewLoader(p LoaderParams) *Loader {
	return &Loader{
		repo:    p.Repo,
		store:   p.Store,
		clock:   p.Clock,
		log:     p.Log.Named("tax.catalog"),
		metrics: p.Metrics,
	}
}

// Reload reads every rule and publishes a new snapshot. On failure the
// previous snapshot keeps serving.
func (l *Loader) Reload(ctx context.Context, trigger string) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rules, err := l.repo.ListAll(ctx)
	if err != nil && db.IsRetryable(err) {
		rules, err = l.repo.ListAll(ctx)
	}
	l.metrics.ObserveCatalogReload(trigger, err)
	if err != nil {
		logger.WithContext(ctx, l.log).Error("catalog reload failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reload catalog: %w", err)
	}

	snapshot := l.store.Publish(rules, l.clock.Now())
	info := snapshot.Info()
	l.metrics.SetCatalog(info.Version, info.RuleCount, info.ActiveCount)

	logger.WithContext(ctx, l.log).Info("catalog published",
		zap.String("trigger", trigger),
		zap.String("snapshot_id", info.SnapshotID),
		zap.Uint64("version", info.Version),
		zap.Int("rules", info.RuleCount),
		zap.Int("active_rules", info.ActiveCount),
	)
	return snapshot, nil
}
