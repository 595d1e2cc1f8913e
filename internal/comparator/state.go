package comparator

import (
	"time"

	"shrike/internal/domain"
)

// Item is one blacklist entry as currently known for a source. SeriesFlag
// holds the id of the series that last touched the item; empty means the item
// has not been seen since the previous sweep.
type Item struct {
	RecordID   string       `json:"record_id"`
	IPs        []string     `json:"ips,omitempty"`
	SeriesFlag string       `json:"series_flag,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Payload    domain.Event `json:"payload"`
}

// SourceState is one source's full diff state. LatestSeenTime is a
// non-decreasing cursor derived from event batch times.
type SourceState struct {
	LatestSeenTime time.Time        `json:"latest_seen_time"`
	Items          map[string]*Item `json:"items"`
}

// State maps source names to their diff state. It is the only structure
// written to durable storage.
type State struct {
	Sources map[string]*SourceState `json:"sources"`
}

func NewState() *State {
	return &State{Sources: make(map[string]*SourceState)}
}

// Source returns the state for name, creating it on first contact.
func (s *State) Source(name string) *SourceState {
	if s.Sources == nil {
		s.Sources = make(map[string]*SourceState)
	}
	src, ok := s.Sources[name]
	if !ok {
		src = &SourceState{Items: make(map[string]*Item)}
		s.Sources[name] = src
	}
	if src.Items == nil {
		src.Items = make(map[string]*Item)
	}
	return src
}
