package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCollectorInterval     = 6 * time.Hour
	defaultGeoLiteUpdateInterval = 24 * time.Hour
)

var (
	collectorInterval      atomic.Value
	geoLiteUpdateInterval  atomic.Value
	collectorListeners     []chan time.Duration
	geoLiteUpdateListeners []chan time.Duration
	listenersMu            sync.Mutex
)

func init() {
	collectorInterval.Store(defaultCollectorInterval)
	geoLiteUpdateInterval.Store(defaultGeoLiteUpdateInterval)
}

// RefreshIntervals recalculates every derived interval from the current
// configuration and notifies the registered listeners.
func RefreshIntervals() {
	cfg := GetConfig()
	setCollectorInterval(calculateCollectorInterval(cfg))
	setGeoLiteUpdateInterval(calculateGeoLiteUpdateInterval(cfg))
}

func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	// Enforce minimum interval
	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetCollectorInterval() time.Duration {
	return collectorInterval.Load().(time.Duration)
}

// CollectorIntervalUpdates returns a channel that receives the current
// interval immediately and every later change.
func CollectorIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	collectorListeners = append(collectorListeners, ch)
	listenersMu.Unlock()

	ch <- GetCollectorInterval()
	return ch
}

func setCollectorInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCollectorInterval
	}

	current := GetCollectorInterval()
	if current == interval {
		return
	}

	collectorInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range collectorListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateCollectorInterval(cfg Config) time.Duration {
	timer := cfg.Collector.FetchTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultCollectorInterval
	}
	return CalculateBetweenTime(timer)
}

func GetGeoLiteUpdateInterval() time.Duration {
	return geoLiteUpdateInterval.Load().(time.Duration)
}

func GeoLiteUpdateIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	geoLiteUpdateListeners = append(geoLiteUpdateListeners, ch)
	listenersMu.Unlock()

	ch <- GetGeoLiteUpdateInterval()
	return ch
}

func setGeoLiteUpdateInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultGeoLiteUpdateInterval
	}
	current := GetGeoLiteUpdateInterval()
	if current == interval {
		return
	}
	geoLiteUpdateInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range geoLiteUpdateListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateGeoLiteUpdateInterval(cfg Config) time.Duration {
	timer := cfg.GeoLite.UpdateTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultGeoLiteUpdateInterval
	}
	return CalculateBetweenTime(timer)
}
