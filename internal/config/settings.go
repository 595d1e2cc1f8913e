package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Comparator struct {
		SeriesTimeoutSeconds uint32 `json:"series_timeout_seconds"`
		SnapshotPath         string `json:"snapshot_path"`
		// StrictOrdering terminates the consumer on a batch-time regression
		// instead of rejecting only the offending message.
		StrictOrdering bool `json:"strict_ordering"`
	} `json:"comparator"`

	Collector struct {
		FetchTimer    Timer  `json:"fetch_timer"`
		EntryTTLHours uint32 `json:"entry_ttl_hours"`
		Feeds         []Feed `json:"feeds"`
	} `json:"collector"`

	Queues struct {
		Raw      string `json:"raw"`
		Enriched string `json:"enriched"`
		Compared string `json:"compared"`
	} `json:"queues"`

	GeoLite struct {
		APIKey        string `json:"api_key"`
		AutoUpdate    bool   `json:"auto_update"`
		UpdateTimer   Timer  `json:"update_timer"`
		CountryDBPath string `json:"country_db_path"`
		ASNDBPath     string `json:"asn_db_path"`
		LastUpdatedAt string `json:"last_updated_at,omitempty"`
	} `json:"geolite"`

	FeedBlocklist []string `json:"feed_blocklist"`
}

// Feed is one upstream blacklist source the collector polls.
type Feed struct {
	Source string `json:"source"` // dotted label.channel identifier
	URL    string `json:"url"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

func UpdateGeoLiteConfig(updater func(cfg *Config)) error {
	if updater == nil {
		return errors.New("config: geolite updater cannot be nil")
	}

	cfg := GetConfig()
	updater(&cfg)

	return applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, broadcast: true, source: "geolite"})
}

func MarkGeoLiteUpdated(ts time.Time) error {
	return UpdateGeoLiteConfig(func(cfg *Config) {
		cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	})
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	RefreshIntervals()
	updateFeedBlocklist(newConfig.FeedBlocklist)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			log.Error("Error serializing configuration for broadcast:", err)
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Error broadcasting configuration update:", err)
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// GetSeriesTimeout returns the stall deadline for an in-flight series.
func GetSeriesTimeout() time.Duration {
	cfg := GetConfig()
	if cfg.Comparator.SeriesTimeoutSeconds == 0 {
		return time.Minute
	}
	return time.Duration(cfg.Comparator.SeriesTimeoutSeconds) * time.Second
}

// GetEntryTTL returns how long a collected blacklist entry stays valid.
func GetEntryTTL() time.Duration {
	cfg := GetConfig()
	if cfg.Collector.EntryTTLHours == 0 {
		return 48 * time.Hour
	}
	return time.Duration(cfg.Collector.EntryTTLHours) * time.Hour
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
