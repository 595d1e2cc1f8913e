package comparator

import (
	"strings"
	"time"

	"shrike/internal/domain"
)

// Transition classifies the change an event represents relative to the stored
// blacklist of its source.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionNew
	TransitionChanged
	TransitionUpdated
	TransitionDelisted
	TransitionExpired
)

// EventType returns the wire name of the transition.
func (t Transition) EventType() string {
	switch t {
	case TransitionNew:
		return domain.EventTypeNew
	case TransitionChanged:
		return domain.EventTypeChange
	case TransitionUpdated:
		return domain.EventTypeUpdate
	case TransitionDelisted:
		return domain.EventTypeDelist
	case TransitionExpired:
		return domain.EventTypeExpire
	default:
		return ""
	}
}

// Change is one output of the diff engine: a transition plus the payload to
// publish for it.
type Change struct {
	Transition Transition
	Payload    domain.Event
}

// IdentityKey derives the field used to recognize the same blacklist entry
// across series: url first, then fqdn, then the sorted IP tuple.
func IdentityKey(ev domain.Event) (string, error) {
	if u := ev.URL(); u != "" {
		return "url:" + u, nil
	}
	if f := ev.FQDN(); f != "" {
		return "fqdn:" + f, nil
	}
	if ips := ev.IPs(); len(ips) > 0 {
		return "ip:" + strings.Join(ips, ","), nil
	}
	return "", &IdentityError{RecordID: ev.RecordID()}
}

// DiffEngine computes per-event transitions against the blacklist state of
// each source. It owns no locking; the dispatcher serializes access.
type DiffEngine struct {
	state *State
}

func NewDiffEngine(state *State) *DiffEngine {
	if state == nil {
		state = NewState()
	}
	return &DiffEngine{state: state}
}

func (d *DiffEngine) State() *State { return d.state }

// CursorTime returns the latest batch time absorbed for the source.
func (d *DiffEngine) CursorTime(source string) time.Time {
	return d.state.Source(source).LatestSeenTime
}

// ProcessEvent absorbs one event and returns the resulting transition plus
// the payload to publish. TransitionNone carries a nil payload. On error no
// state is mutated.
func (d *DiffEngine) ProcessEvent(source string, ev domain.Event) (Transition, domain.Event, error) {
	batchTime, err := ev.BatchTime()
	if err != nil {
		return TransitionNone, nil, &ValidationError{Field: domain.FieldBatchTime, Reason: err.Error()}
	}

	src := d.state.Source(source)
	if batchTime.Before(src.LatestSeenTime) {
		return TransitionNone, nil, &OutOfOrderError{Source: source, EventTime: batchTime, Cursor: src.LatestSeenTime}
	}

	key, err := IdentityKey(ev)
	if err != nil {
		return TransitionNone, nil, err
	}

	expires, err := ev.Expires()
	if err != nil {
		return TransitionNone, nil, &ValidationError{Field: domain.FieldExpires, Reason: err.Error()}
	}

	seriesID := ev.SeriesID()
	ips := ev.IPs()

	transition := TransitionNone
	var payload domain.Event

	existing, known := src.Items[key]
	switch {
	case !known:
		payload = ev.Clone()
		src.Items[key] = &Item{
			RecordID:   ev.RecordID(),
			IPs:        ips,
			SeriesFlag: seriesID,
			ExpiresAt:  expires,
			Payload:    payload.Clone(),
		}
		transition = TransitionNew

	case !sameIPs(existing.IPs, ips):
		// The entry now resolves to a different IP set: the old record is
		// retired and a replacement carries a back-reference to it.
		payload = ev.Clone()
		payload[domain.FieldReplaces] = existing.RecordID
		src.Items[key] = &Item{
			RecordID:   ev.RecordID(),
			IPs:        ips,
			SeriesFlag: seriesID,
			ExpiresAt:  expires,
			Payload:    payload.Clone(),
		}
		transition = TransitionChanged

	case !existing.ExpiresAt.Equal(expires):
		// Refresh in place. Feeds mint a fresh record id every round, so the
		// published payload keeps the id the entry was first recorded under
		// and only the expiry and batch time move.
		existing.ExpiresAt = expires
		existing.SeriesFlag = seriesID
		existing.Payload[domain.FieldExpires] = ev[domain.FieldExpires]
		existing.Payload[domain.FieldBatchTime] = ev[domain.FieldBatchTime]
		payload = existing.Payload.Clone()
		transition = TransitionUpdated

	default:
		existing.SeriesFlag = seriesID
	}

	src.LatestSeenTime = batchTime
	return transition, payload, nil
}

// SweepStale converts the leftovers of a completed series into terminal
// changes: entries past their expiry become bl-expire, entries the series
// never touched become bl-delist, and survivors get their flag cleared for
// the next round. Runs once per completed series.
func (d *DiffEngine) SweepStale(source string, now time.Time) []Change {
	src := d.state.Source(source)

	var changes []Change
	for key, item := range src.Items {
		switch {
		case item.ExpiresAt.Before(now):
			changes = append(changes, Change{Transition: TransitionExpired, Payload: item.Payload.Clone()})
			delete(src.Items, key)
		case item.SeriesFlag == "":
			changes = append(changes, Change{Transition: TransitionDelisted, Payload: item.Payload.Clone()})
			delete(src.Items, key)
		default:
			item.SeriesFlag = ""
		}
	}
	return changes
}

func sameIPs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
