// Package retention bounds the session registry.
//
// For every active tool the Pruner first removes sessions idle for longer
// than MaxAgeDays, then the least recently seen sessions beyond MaxCount.
// The Scheduler runs it on a cron schedule (robfig/cron descriptors such as
// "@every 1h" are accepted):
//
//	pruner := retention.NewPruner(manager, &retention.Config{
//	    MaxCount:   1000,
//	    MaxAgeDays: 30,
//	    Schedule:   "@every 1h",
//	})
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
package retention
