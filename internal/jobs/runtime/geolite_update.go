package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"shrike/internal/config"
	"shrike/internal/geolite"
	"shrike/internal/support"
)

const (
	geoLiteUpdateLockKey       = "shrike:leader:geolite_update"
	geoLiteUpdateFallbackEvery = 24 * time.Hour
)

func StartGeoLiteUpdateRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	initialInterval := config.GetGeoLiteUpdateInterval()
	if initialInterval <= 0 {
		initialInterval = geoLiteUpdateFallbackEvery
	}
	intervalValue.Store(initialInterval)

	updateSignal := make(chan struct{}, 1)
	updates := config.GeoLiteUpdateIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					newInterval = geoLiteUpdateFallbackEvery
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	err := support.RunWithLeader(ctx, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)
	if currentInterval <= 0 {
		currentInterval = geoLiteUpdateFallbackEvery
	}

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	triggerGeoLiteUpdate(ctx, "startup", false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			triggerGeoLiteUpdate(ctx, "scheduled", false)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 {
				newInterval = geoLiteUpdateFallbackEvery
			}
			if newInterval == currentInterval {
				continue
			}
			DrainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
		}
	}
}

// RunGeoLiteUpdate runs the updater on demand. When force is false the update
// only executes if auto updates are enabled.
func RunGeoLiteUpdate(ctx context.Context, reason string, force bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	triggerGeoLiteUpdate(ctx, reason, force)
}

func triggerGeoLiteUpdate(ctx context.Context, reason string, force bool) {
	cfg := config.GetConfig()
	apiKey := strings.TrimSpace(cfg.GeoLite.APIKey)
	if apiKey == "" {
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
		return
	}

	if !force && !cfg.GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
		return
	}

	updated, err := geolite.UpdateDatabases(ctx)
	switch {
	case errors.Is(err, geolite.ErrNoAPIKey):
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	case updated:
		log.Info("GeoLite databases updated", "reason", reason)
	default:
		log.Debug("GeoLite update skipped", "reason", reason)
	}
}

// DrainTicker empties a ticker channel before resetting its interval.
func DrainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
