package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper applies retention to one tool. session.Manager implements it.
type Sweeper interface {
	Cleanup(ctx context.Context, toolID string, maxCount, maxAgeDays int) (int64, error)
	ActiveTools() []string
}

// Config contains configuration for the retention pruner.
type Config struct {
	// MaxCount is the number of sessions kept per tool.
	// 0 disables count-based pruning.
	MaxCount int

	// MaxAgeDays removes sessions idle for longer than this many days.
	// 0 disables age-based pruning.
	MaxAgeDays int

	// Schedule is a cron expression or descriptor for periodic pruning.
	// Example: "@every 1h", "0 3 * * *"
	Schedule string

	// RunOnStart prunes once when the scheduler starts.
	RunOnStart bool
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxCount:   1000,
		MaxAgeDays: 30,
		Schedule:   "@every 1h",
		RunOnStart: true,
	}
}

// Pruner enforces retention for every active tool.
type Pruner struct {
	sweeper   Sweeper
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(sweeper Sweeper, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	pruner := &Pruner{
		sweeper: sweeper,
		config:  config,
		logger:  slog.Default().With("component", "session.retention"),
	}
	pruner.scheduler = NewScheduler(pruner)

	return pruner
}

// Prune sweeps every active tool: sessions idle beyond MaxAgeDays first,
// then the least recently seen beyond MaxCount. A failing tool does not
// stop the others; their errors are joined.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var (
		totalDeleted int64
		errs         []error
	)

	for _, toolID := range p.sweeper.ActiveTools() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		deleted, err := p.sweeper.Cleanup(ctx, toolID, p.config.MaxCount, p.config.MaxAgeDays)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", toolID, err))
			continue
		}
		totalDeleted += deleted

		if deleted > 0 {
			p.logger.Info("pruned sessions",
				"tool_id", toolID,
				"deleted_count", deleted,
				"max_count", p.config.MaxCount,
				"max_age_days", p.config.MaxAgeDays,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}

	if totalDeleted == 0 {
		p.logger.Debug("no sessions pruned",
			"max_count", p.config.MaxCount,
			"max_age_days", p.config.MaxAgeDays,
		)
	}

	return totalDeleted, errors.Join(errs...)
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
