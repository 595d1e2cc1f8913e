// Package collector downloads the configured threat feeds and turns each
// fetch into a series of raw events for the pipeline.
package collector

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"shrike/internal/bus"
	"shrike/internal/config"
	"shrike/internal/domain"
	"shrike/internal/support"
)

const (
	maxResponseBytes     = 10 << 20 // 10 MiB safety cap
	fetchLockKey         = "shrike:leader:feed_fetch"
	defaultFetchInterval = 6 * time.Hour
)

var (
	fetchOnce  singleflight.Group
	httpClient = &http.Client{Timeout: 30 * time.Second}
	ipRegex    = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?:/\d{1,2})?\b`)
)

type FetchOutcome struct {
	Feeds        int
	FeedsFailed  int
	FeedsBlocked int
	Records      int
}

type Collector struct {
	pub bus.Publisher
	now func() time.Time
}

func New(pub bus.Publisher) *Collector {
	return &Collector{pub: pub, now: time.Now}
}

// StartFetchRoutine runs the feed fetch loop with dynamic rescheduling. Only
// the leader instance downloads feeds so a clustered deployment emits each
// series exactly once.
func (c *Collector) StartFetchRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	initial := config.GetCollectorInterval()
	if initial <= 0 {
		initial = defaultFetchInterval
	}
	intervalValue.Store(initial)

	updateSignal := make(chan struct{}, 1)
	updates := config.CollectorIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					newInterval = defaultFetchInterval
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	err := support.RunWithLeader(ctx, fetchLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		c.runFetchLoop(leaderCtx, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Feed fetch routine stopped", "error", err)
	}
}

func (c *Collector) runFetchLoop(ctx context.Context, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	current := intervalValue.Load().(time.Duration)
	if current <= 0 {
		current = defaultFetchInterval
	}

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	c.triggerFetch(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.triggerFetch(ctx, "scheduled")
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 {
				newInterval = defaultFetchInterval
			}
			if newInterval == current {
				continue
			}
			drainTicker(ticker)
			current = newInterval
			ticker.Reset(current)
		}
	}
}

func (c *Collector) triggerFetch(ctx context.Context, reason string) {
	outcome, err := c.FetchAll(ctx, reason)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Feed fetch canceled", "reason", reason)
		} else {
			log.Error("Feed fetch failed", "reason", reason, "error", err)
		}
		return
	}
	if outcome == nil {
		return
	}

	log.Info("Feed fetch completed",
		"reason", reason,
		"feeds", outcome.Feeds,
		"failed", outcome.FeedsFailed,
		"blocked", outcome.FeedsBlocked,
		"records", outcome.Records,
	)
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}

// FetchAll downloads every configured feed and publishes one series per feed.
// Concurrent callers share a single run.
func (c *Collector) FetchAll(ctx context.Context, reason string) (*FetchOutcome, error) {
	result, err, _ := fetchOnce.Do("fetch", func() (interface{}, error) {
		return c.doFetchAll(ctx, reason)
	})
	if err != nil {
		return nil, err
	}
	outcome, _ := result.(*FetchOutcome)
	return outcome, nil
}

func (c *Collector) doFetchAll(ctx context.Context, reason string) (*FetchOutcome, error) {
	cfg := config.GetConfig()
	feeds := append([]config.Feed(nil), cfg.Collector.Feeds...)
	outcome := &FetchOutcome{Feeds: len(feeds)}

	for _, feed := range feeds {
		if config.IsFeedBlocked(feed.URL) {
			log.Warn("Feed is blocked, skipping", "source", feed.Source, "url", feed.URL)
			outcome.FeedsBlocked++
			continue
		}

		records, err := c.FetchFeed(ctx, feed)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn("Feed fetch failed", "source", feed.Source, "reason", reason, "error", err)
			outcome.FeedsFailed++
			continue
		}
		outcome.Records += records
	}

	return outcome, nil
}

// FetchFeed downloads one feed and publishes its entries as a complete
// series sharing a batch time and series id. It returns the number of
// records published.
func (c *Collector) FetchFeed(ctx context.Context, feed config.Feed) (int, error) {
	body, err := fetchFeedBody(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	entries := parseEntries(body)
	if len(entries) == 0 {
		log.Warn("Feed produced no entries", "source", feed.Source, "url", feed.URL)
		return 0, nil
	}

	return c.publishSeries(ctx, feed.Source, entries)
}

func (c *Collector) publishSeries(ctx context.Context, source string, entries []feedEntry) (int, error) {
	now := c.now().UTC()
	batchTime := now.Format(time.RFC3339)
	expires := now.Add(config.GetEntryTTL()).Format(time.RFC3339)
	seriesID := newSeriesID()
	routingKey := "collected." + source

	for i, entry := range entries {
		ev := domain.Event{
			domain.FieldSource:      source,
			domain.FieldRecordID:    fmt.Sprintf("%s-%d", seriesID, i+1),
			domain.FieldBatchTime:   batchTime,
			domain.FieldExpires:     expires,
			domain.FieldSeriesID:    seriesID,
			domain.FieldSeriesTotal: len(entries),
			domain.FieldSeriesNo:    i + 1,
			domain.FieldAddress:     []any{map[string]any{"ip": entry.IP}},
		}
		if entry.CIDR != "" {
			ev["cidr"] = entry.CIDR
		}

		data, err := ev.Encode()
		if err != nil {
			return i, fmt.Errorf("encode feed record: %w", err)
		}
		if err := c.pub.Publish(ctx, routingKey, data); err != nil {
			return i, fmt.Errorf("publish feed record: %w", err)
		}
	}

	log.Info("Published feed series", "source", source, "series_id", seriesID, "records", len(entries))
	return len(entries), nil
}

type feedEntry struct {
	IP   string
	CIDR string
}

func fetchFeedBody(ctx context.Context, url string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	content, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return content, nil
}

// parseEntries extracts IPv4 addresses and CIDR blocks from a feed body.
// Duplicate addresses within one body collapse to a single entry; comment
// and garbage lines are ignored because only regex matches are considered.
func parseEntries(payload []byte) []feedEntry {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	seen := make(map[string]struct{})
	var entries []feedEntry

	for scanner.Scan() {
		line := scanner.Bytes()
		matches := ipRegex.FindAll(line, -1)
		for _, match := range matches {
			entry, ok := parseCIDROrIP(string(match))
			if !ok {
				continue
			}
			key := entry.IP
			if entry.CIDR != "" {
				key = entry.CIDR
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("Feed scanner warning", "error", err)
	}

	return entries
}

func parseCIDROrIP(raw string) (feedEntry, bool) {
	if !strings.Contains(raw, "/") {
		ip := normalizeIPv4(raw)
		if ip == "" {
			return feedEntry{}, false
		}
		return feedEntry{IP: ip}, true
	}

	_, ipnet, err := net.ParseCIDR(raw)
	if err != nil || ipnet == nil {
		return feedEntry{}, false
	}

	base := ipnet.IP.To4()
	if base == nil {
		return feedEntry{}, false
	}

	return feedEntry{IP: base.String(), CIDR: ipnet.String()}, true
}

func normalizeIPv4(raw string) string {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return v4.String()
}

func newSeriesID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("series-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
