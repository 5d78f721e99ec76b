package bot

import (
	"context"
	"time"

	"zalobridge/internal/database"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/msgref"
)

// ScheduledTaskFunc is the signature for registry-driven maintenance tasks.
type ScheduledTaskFunc func(ctx context.Context) error

// archiveRetention bounds how long archived conversation rows are kept.
const archiveRetention = 30 * 24 * time.Hour

// NewTaskRegistry builds the named maintenance tasks the scheduler can run.
// Config selects which ones actually get scheduled.
func NewTaskRegistry(store database.Store, guard *dedupe.Guard, refs *msgref.Tracker) map[string]ScheduledTaskFunc {
	return map[string]ScheduledTaskFunc{
		"dedupe_sweep": func(ctx context.Context) error {
			guard.Sweep(time.Now())
			return nil
		},
		"msgref_evict": func(ctx context.Context) error {
			refs.Evict(time.Now())
			return nil
		},
		"archive_prune": func(ctx context.Context) error {
			_, err := store.PruneMessages(ctx, time.Now().Add(-archiveRetention))
			return err
		},
		"sql_maintenance": func(ctx context.Context) error {
			return store.RunSQLMaintenance(ctx)
		},
	}
}
