package config

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// feedBlocklistSet holds normalized hostnames the collector must never fetch.
var feedBlocklistSet atomic.Value

func init() {
	feedBlocklistSet.Store(make(map[string]struct{}))
}

// NormalizeFeedBlocklist trims, lowercases, and deduplicates host entries.
func NormalizeFeedBlocklist(entries []string) []string {
	return normalizeFeedEntries(entries)
}

// updateFeedBlocklist refreshes the in-memory set from the persisted config.
func updateFeedBlocklist(entries []string) {
	normalized := normalizeFeedEntries(entries)
	feedBlocklistSet.Store(buildFeedBlocklist(normalized))
}

// IsFeedBlocked reports whether the given URL or hostname matches the
// configured blocklist.
func IsFeedBlocked(rawURL string) bool {
	return isFeedBlocked(rawURL, feedBlocklistSet.Load().(map[string]struct{}))
}

func isFeedBlocked(rawURL string, blockedSet map[string]struct{}) bool {
	if len(blockedSet) == 0 {
		return false
	}

	host := normalizeHostname(rawURL)
	if host == "" {
		return false
	}

	return isHostBlocked(host, blockedSet)
}

func buildFeedBlocklist(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, host := range entries {
		if host == "" {
			continue
		}
		set[host] = struct{}{}
	}
	return set
}

func normalizeFeedEntries(entries []string) []string {
	unique := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := normalizeHostname(raw)
		if host == "" {
			continue
		}
		if _, exists := unique[host]; exists {
			continue
		}
		unique[host] = struct{}{}
		normalized = append(normalized, host)
	}

	return normalized
}

func normalizeHostname(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Allow bare hostnames by prefixing a scheme for URL parsing.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	return strings.Trim(host, ".")
}

func isHostBlocked(host string, blockedSet map[string]struct{}) bool {
	if host == "" || len(blockedSet) == 0 {
		return false
	}

	if _, ok := blockedSet[host]; ok {
		return true
	}

	for blocked := range blockedSet {
		if blocked == "" {
			continue
		}
		if strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}

	return false
}
