// Package maintenance hosts the periodic housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"shrike/internal/database"
	"shrike/internal/support"
)

const (
	envCleanupInterval        = "ENTRY_CLEAN_INTERVAL"
	envCleanupIntervalMinutes = "ENTRY_CLEAN_INTERVAL_MINUTES"
	envRetentionDays          = "ENTRY_RETENTION_DAYS"

	defaultCleanupMinutes = 60
	defaultRetentionDays  = 30
	entryCleanupLockKey   = "shrike:leader:entry_cleanup"
)

// StartEntryCleanupRoutine periodically purges terminal entries past their
// retention window. Only the leader instance runs the loop.
func StartEntryCleanupRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, entryCleanupLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runEntryCleanupLoop(leaderCtx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Entry cleanup routine stopped", "error", err)
	}
}

func runEntryCleanupLoop(ctx context.Context) {
	interval := resolveCleanupInterval()
	if interval <= 0 {
		interval = time.Duration(defaultCleanupMinutes) * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runEntryCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runEntryCleanup(ctx)
		}
	}
}

func resolveCleanupInterval() time.Duration {
	if raw := support.GetEnv(envCleanupInterval, ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn("Invalid ENTRY_CLEAN_INTERVAL value, falling back to minutes env", "value", raw)
	}

	minutes := support.GetEnvInt(envCleanupIntervalMinutes, defaultCleanupMinutes)
	if minutes <= 0 {
		minutes = defaultCleanupMinutes
	}

	return time.Duration(minutes) * time.Minute
}

func resolveRetention() time.Duration {
	days := support.GetEnvInt(envRetentionDays, defaultRetentionDays)
	if days <= 0 {
		days = defaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func runEntryCleanup(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-resolveRetention())

	removed, err := database.PurgeTerminalEntries(ctx, cutoff)
	if err != nil {
		log.Error("Failed to purge terminal entries", "error", err)
		return
	}
	if removed == 0 {
		return
	}

	log.Info(
		"Entry cleanup completed",
		"entries_removed", removed,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"duration", time.Since(start),
	)
}
