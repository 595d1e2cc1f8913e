package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfPeriod(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfPeriod(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfPeriod returned %d, want %d", got, want)
	}
}

func TestCalculateBetweenTime(t *testing.T) {
	t.Run("enforces minimum interval", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{}); got != time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{Minutes: 1, Seconds: 30}); got != 90*time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1m30s", got)
		}
	})
}

func TestRefreshIntervalsNotifiesListeners(t *testing.T) {
	origCfg := GetConfig()
	origCollector := GetCollectorInterval()
	origGeoLite := GetGeoLiteUpdateInterval()
	origCollectorListeners := collectorListeners
	origGeoLiteListeners := geoLiteUpdateListeners

	t.Cleanup(func() {
		configValue.Store(origCfg)
		collectorInterval.Store(origCollector)
		geoLiteUpdateInterval.Store(origGeoLite)
		collectorListeners = origCollectorListeners
		geoLiteUpdateListeners = origGeoLiteListeners
	})

	updates := CollectorIntervalUpdates()
	if got := <-updates; got != origCollector {
		t.Fatalf("initial interval = %s, want %s", got, origCollector)
	}

	cfg := origCfg
	cfg.Collector.FetchTimer = Timer{Minutes: 15}
	configValue.Store(cfg)
	RefreshIntervals()

	select {
	case got := <-updates:
		if got != 15*time.Minute {
			t.Fatalf("updated interval = %s, want 15m", got)
		}
	default:
		t.Fatalf("no interval update delivered")
	}

	if got := GetCollectorInterval(); got != 15*time.Minute {
		t.Fatalf("GetCollectorInterval = %s, want 15m", got)
	}
}

func TestGetSeriesTimeoutDefault(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	configValue.Store(Config{})
	if got := GetSeriesTimeout(); got != time.Minute {
		t.Fatalf("GetSeriesTimeout = %s, want 1m default", got)
	}

	cfg := Config{}
	cfg.Comparator.SeriesTimeoutSeconds = 300
	configValue.Store(cfg)
	if got := GetSeriesTimeout(); got != 5*time.Minute {
		t.Fatalf("GetSeriesTimeout = %s, want 5m", got)
	}
}
