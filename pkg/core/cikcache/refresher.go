package cikcache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRefreshSchedule pulls the ticker list once a day, after SEC's overnight update.
const DefaultRefreshSchedule = "30 6 * * *"

// Refresher re-pulls the ticker list on a cron schedule for long-running processes.
type Refresher struct {
	cache    *Cache
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewRefresher validates the schedule up front; the job starts with Start.
func NewRefresher(cache *Cache, schedule string, logger zerolog.Logger) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	r := &Refresher{
		cache:    cache,
		cron:     cron.New(),
		schedule: schedule,
		timeout:  2 * time.Minute,
		logger:   logger.With().Str("component", "ticker-refresher").Logger(),
	}
	if _, err := r.cron.AddFunc(schedule, r.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce refreshes the cache immediately.
func (r *Refresher) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	n, err := r.cache.Refresh(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("scheduled ticker refresh failed")
		return
	}
	r.logger.Info().Int("tickers", n).Dur("took", time.Since(start)).Msg("ticker list refreshed")
}

func (r *Refresher) Start() {
	r.logger.Info().Str("schedule", r.schedule).Msg("ticker refresher started")
	r.cron.Start()
}

// Stop waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
