package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// CachePruner drops cache entries unused for longer than maxAge.
type CachePruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// Janitor periodically prunes the transform cache and old build history.
type Janitor struct {
	scheduler gocron.Scheduler
	cache     CachePruner
	history   history.Store
	maxAge    time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// JanitorOptions configure a Janitor. Nil cache or history skip that part.
type JanitorOptions struct {
	Cache       CachePruner
	History     history.Store
	CacheMaxAge time.Duration
	KeepHistory time.Duration
	Logger      *slog.Logger
}

// NewJanitor creates a stopped janitor.
func NewJanitor(opts JanitorOptions) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		scheduler: s,
		cache:     opts.Cache,
		history:   opts.History,
		maxAge:    opts.CacheMaxAge,
		retention: opts.KeepHistory,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start runs the janitor every interval until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { j.RunOnce(ctx) }),
		gocron.WithName("janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create janitor job: %w", err)
	}
	j.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce(ctx context.Context) {
	if j.cache != nil && j.maxAge > 0 {
		n, err := j.cache.Prune(ctx, j.maxAge)
		if err != nil {
			j.logger.Warn("Cache pruning failed", logfields.Error(err))
		} else if n > 0 {
			j.logger.Info("Pruned transform cache", logfields.Count(n))
		}
	}
	if j.history != nil && j.retention > 0 {
		n, err := j.history.Prune(ctx, j.now().Add(-j.retention))
		if err != nil {
			j.logger.Warn("History pruning failed", logfields.Error(err))
		} else if n > 0 {
			j.logger.Info("Pruned build history", logfields.Count(int(n)))
		}
	}
}
