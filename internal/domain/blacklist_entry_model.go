package domain

import "time"

// Entry lifecycle statuses as tracked by the recorder.
const (
	EntryStatusActive   = "active"
	EntryStatusReplaced = "replaced"
	EntryStatusDelisted = "delisted"
	EntryStatusExpired  = "expired"
)

// Comparison event types emitted by the pipeline.
const (
	EventTypeNew    = "bl-new"
	EventTypeChange = "bl-change"
	EventTypeUpdate = "bl-update"
	EventTypeDelist = "bl-delist"
	EventTypeExpire = "bl-expire"
)

// BlacklistEntry is one recorded blacklist member and its lifecycle state.
type BlacklistEntry struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	RecordID   string     `gorm:"uniqueIndex;size:191;not null" json:"record_id"`
	Source     string     `gorm:"index;size:191;not null" json:"source"`
	Status     string     `gorm:"index;size:32;not null" json:"status"`
	URL        string     `gorm:"size:2048" json:"url,omitempty"`
	FQDN       string     `gorm:"size:255" json:"fqdn,omitempty"`
	IPs        StringList `gorm:"type:json" json:"ips,omitempty"`
	BatchTime  time.Time  `gorm:"index" json:"batch_time"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ReplacedBy string     `gorm:"size:191" json:"replaced_by,omitempty"`
	Payload    JSONMap    `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SourceSummary aggregates the recorded entries of one feed.
type SourceSummary struct {
	Source     string    `json:"source"`
	Active     int64     `json:"active"`
	Total      int64     `json:"total"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// EntryFromEvent maps a comparison event onto a persistable entry.
func EntryFromEvent(ev Event) (BlacklistEntry, error) {
	batchTime, err := ev.BatchTime()
	if err != nil {
		return BlacklistEntry{}, err
	}
	expires, err := ev.Expires()
	if err != nil {
		return BlacklistEntry{}, err
	}

	return BlacklistEntry{
		RecordID:  ev.RecordID(),
		Source:    ev.Source(),
		URL:       ev.URL(),
		FQDN:      ev.FQDN(),
		IPs:       StringList(ev.IPs()),
		BatchTime: batchTime,
		ExpiresAt: expires,
		Payload:   JSONMap(ev.Clone()),
	}, nil
}
