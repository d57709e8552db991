package scopes

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// DefaultRefreshInterval is how often the index poller runs when the
// configuration does not override it.
const DefaultRefreshInterval = 30 * time.Second

// Refresher polls the durable store on a schedule and refreshes the
// in-memory index, picking up writes from other replicas. Invalidation is
// poll-based: changed version vector entries make dependent cache entries
// fail their staleness check on the next decision.
type Refresher struct {
	store   *IndexedStore
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewRefresher creates a refresher for the given indexed store
func NewRefresher(store *IndexedStore, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	r := &Refresher{
		store:   store,
		logger:  logger.WithField("component", "refresher"),
		metrics: metrics,
		cron:    cron.New(),
	}
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(r.run))
	return r
}

// Start begins the polling schedule
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	defer observability.RecoverPanic(r.logger, "scope index refresh")

	if err := r.store.Refresh(ctx); err != nil {
		r.logger.WithError(err).Error("failed to refresh scope index")
		return
	}

	if r.metrics != nil {
		if docs, err := r.store.List(ctx); err == nil {
			r.metrics.ScopesTotal.Set(float64(len(docs)))
		}
	}
	r.logger.Debug("scope index refreshed")
}
