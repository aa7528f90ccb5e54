package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/clock"
	appconfig "github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/dispatch"
	projectdomain "github.com/glidestudio/glide/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config tunes the orphaned-project sweep.
type Config struct {
	PollInterval time.Duration
	MinAge       time.Duration
	BatchSize    int
	RunTimeout   time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.MinAge <= 0 {
		c.MinAge = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	AppConfig   appconfig.Config
	ProjectRepo projectdomain.Repository
	Queue       *dispatch.Queue
	Guard       *dispatch.InflightGuard
	Clock       clock.Clock
	Config      Config `optional:"true"`
}

// Worker re-enqueues screen generation for projects that were durably
// created but never produced a frame, typically because the process died
// between the project commit and the enqueue. Each project gets a bounded
// number of attempts.
type Worker struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	appCfg      appconfig.Config
	projectRepo projectdomain.Repository
	queue       *dispatch.Queue
	guard       *dispatch.InflightGuard
	clock       clock.Clock
	cfg         Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:          p.DB,
		log:         p.Log.Named("reconcile.worker"),
		genID:       p.GenID,
		appCfg:      p.AppConfig,
		projectRepo: p.ProjectRepo,
		queue:       p.Queue,
		guard:       p.Guard,
		clock:       p.Clock,
		cfg:         p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("reconcile run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	cutoff := w.clock.Now().Add(-w.cfg.MinAge)
	stale, err := w.projectRepo.ListStale(ctx, w.db, cutoff, w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, row := range stale {
		if err := w.requeue(ctx, row); err != nil {
			w.log.Warn("requeue failed",
				zap.String("project_id", row.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (w *Worker) requeue(ctx context.Context, row projectdomain.StaleProject) error {
	// A held lock means a run is already working on this project.
	if err := w.guard.Acquire(ctx, row.ID, 0); err != nil {
		if errors.Is(err, dispatch.ErrJobInFlight) {
			return nil
		}
		return err
	}

	// Bump before enqueue so a crash loop cannot retry unboundedly.
	if err := w.projectRepo.BumpGenerationAttempts(ctx, w.db, row.ID); err != nil {
		w.guard.Release(ctx, row.ID, 0)
		return err
	}

	job := dispatch.Job{
		ID:        w.genID.Generate(),
		Kind:      dispatch.KindCreateScreens,
		AccountID: row.AccountID,
		ProjectID: row.ID,
		CreateScreens: &dispatch.CreateScreensPayload{
			Prompt:      row.Name,
			ScreenCount: w.appCfg.Jobs.DefaultScreens,
		},
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.guard.Release(ctx, row.ID, 0)
		return err
	}

	w.log.Info("orphaned project requeued",
		zap.String("project_id", row.ID.String()),
		zap.Int("attempt", row.Attempts+1),
	)
	return nil
}
