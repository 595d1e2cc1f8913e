package comparator

import (
	"errors"
	"testing"
	"time"

	"shrike/internal/domain"
)

func baseEvent(overrides map[string]any) domain.Event {
	ev := domain.Event{
		"source":       "spamfeed.list",
		"id":           "rec-1",
		"batch_time":   "2026-01-10T12:00:00Z",
		"expires":      "2026-02-10T12:00:00Z",
		"series_id":    "series-1",
		"series_total": 1,
		"series_no":    1,
		"url":          "http://malware.example/dropper",
		"address":      []any{map[string]any{"ip": "1.1.1.1"}},
	}
	for k, v := range overrides {
		if v == nil {
			delete(ev, k)
			continue
		}
		ev[k] = v
	}
	return ev
}

func TestIdentityKeyPriority(t *testing.T) {
	t.Run("url wins", func(t *testing.T) {
		key, err := IdentityKey(baseEvent(nil))
		if err != nil {
			t.Fatalf("IdentityKey: %v", err)
		}
		if key != "url:http://malware.example/dropper" {
			t.Fatalf("key = %q, want url-based key", key)
		}
	})

	t.Run("fqdn when url absent", func(t *testing.T) {
		ev := baseEvent(map[string]any{"url": nil, "fqdn": "bad.example"})
		key, err := IdentityKey(ev)
		if err != nil {
			t.Fatalf("IdentityKey: %v", err)
		}
		if key != "fqdn:bad.example" {
			t.Fatalf("key = %q, want fqdn-based key", key)
		}
	})

	t.Run("sorted ip tuple as last resort", func(t *testing.T) {
		ev := baseEvent(map[string]any{
			"url": nil,
			"address": []any{
				map[string]any{"ip": "9.9.9.9"},
				map[string]any{"ip": "1.1.1.1"},
			},
		})
		key, err := IdentityKey(ev)
		if err != nil {
			t.Fatalf("IdentityKey: %v", err)
		}
		if key != "ip:1.1.1.1,9.9.9.9" {
			t.Fatalf("key = %q, want sorted ip key", key)
		}
	})

	t.Run("no identity fields", func(t *testing.T) {
		ev := baseEvent(map[string]any{"url": nil, "address": nil})
		_, err := IdentityKey(ev)
		var identityErr *IdentityError
		if !errors.As(err, &identityErr) {
			t.Fatalf("IdentityKey error = %v, want IdentityError", err)
		}
	})
}

func TestProcessEventTransitions(t *testing.T) {
	engine := NewDiffEngine(NewState())

	transition, payload, err := engine.ProcessEvent("spamfeed.list", baseEvent(nil))
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if transition != TransitionNew {
		t.Fatalf("first transition = %v, want TransitionNew", transition)
	}
	if payload == nil {
		t.Fatalf("new transition must carry a payload")
	}

	// Same identity, different IP set: a replacement referencing the old record.
	changed := baseEvent(map[string]any{
		"id":         "rec-2",
		"batch_time": "2026-01-11T12:00:00Z",
		"series_id":  "series-2",
		"address":    []any{map[string]any{"ip": "2.2.2.2"}},
	})
	transition, payload, err = engine.ProcessEvent("spamfeed.list", changed)
	if err != nil {
		t.Fatalf("changed event: %v", err)
	}
	if transition != TransitionChanged {
		t.Fatalf("transition = %v, want TransitionChanged", transition)
	}
	if got := payload["replaces"]; got != "rec-1" {
		t.Fatalf("replaces = %v, want rec-1", got)
	}

	// Same IP set, new expiry: refresh in place.
	refreshed := baseEvent(map[string]any{
		"id":         "rec-3",
		"batch_time": "2026-01-12T12:00:00Z",
		"expires":    "2026-03-10T12:00:00Z",
		"series_id":  "series-3",
		"address":    []any{map[string]any{"ip": "2.2.2.2"}},
	})
	transition, _, err = engine.ProcessEvent("spamfeed.list", refreshed)
	if err != nil {
		t.Fatalf("refreshed event: %v", err)
	}
	if transition != TransitionUpdated {
		t.Fatalf("transition = %v, want TransitionUpdated", transition)
	}

	if got := len(engine.State().Source("spamfeed.list").Items); got != 1 {
		t.Fatalf("items = %d, want 1", got)
	}
}

func TestProcessEventUpdateKeepsStoredRecordID(t *testing.T) {
	engine := NewDiffEngine(NewState())

	if _, _, err := engine.ProcessEvent("spamfeed.list", baseEvent(nil)); err != nil {
		t.Fatalf("first event: %v", err)
	}

	// A later round re-announces the same entry (same identity, same IPs)
	// under a fresh record id with a pushed-out expiry.
	refreshed := baseEvent(map[string]any{
		"id":         "rec-7",
		"batch_time": "2026-01-12T12:00:00Z",
		"expires":    "2026-03-10T12:00:00Z",
		"series_id":  "series-7",
	})
	transition, payload, err := engine.ProcessEvent("spamfeed.list", refreshed)
	if err != nil {
		t.Fatalf("refreshed event: %v", err)
	}
	if transition != TransitionUpdated {
		t.Fatalf("transition = %v, want TransitionUpdated", transition)
	}
	if got := payload["id"]; got != "rec-1" {
		t.Fatalf("payload id = %v, want the id the entry was recorded under", got)
	}
	if got := payload["expires"]; got != "2026-03-10T12:00:00Z" {
		t.Fatalf("payload expires = %v, want the refreshed expiry", got)
	}
	if got := payload["batch_time"]; got != "2026-01-12T12:00:00Z" {
		t.Fatalf("payload batch_time = %v, want the refreshing round's batch time", got)
	}

	if got := engine.State().Source("spamfeed.list").Items["url:http://malware.example/dropper"].RecordID; got != "rec-1" {
		t.Fatalf("stored record id = %v, want rec-1", got)
	}
}

func TestProcessEventReplayIsIdempotent(t *testing.T) {
	engine := NewDiffEngine(NewState())

	if _, _, err := engine.ProcessEvent("spamfeed.list", baseEvent(nil)); err != nil {
		t.Fatalf("first event: %v", err)
	}

	transition, payload, err := engine.ProcessEvent("spamfeed.list", baseEvent(nil))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if transition != TransitionNone {
		t.Fatalf("replay transition = %v, want TransitionNone", transition)
	}
	if payload != nil {
		t.Fatalf("replay payload = %v, want nil", payload)
	}
	if got := len(engine.State().Source("spamfeed.list").Items); got != 1 {
		t.Fatalf("items = %d, want 1", got)
	}
}

func TestProcessEventOutOfOrder(t *testing.T) {
	engine := NewDiffEngine(NewState())

	if _, _, err := engine.ProcessEvent("spamfeed.list", baseEvent(nil)); err != nil {
		t.Fatalf("first event: %v", err)
	}
	cursorBefore := engine.CursorTime("spamfeed.list")

	stale := baseEvent(map[string]any{
		"id":         "rec-9",
		"batch_time": "2026-01-01T00:00:00Z",
		"url":        "http://other.example/x",
	})
	_, _, err := engine.ProcessEvent("spamfeed.list", stale)
	var orderErr *OutOfOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("error = %v, want OutOfOrderError", err)
	}

	if got := engine.CursorTime("spamfeed.list"); !got.Equal(cursorBefore) {
		t.Fatalf("cursor moved to %v after rejected event", got)
	}
	if got := len(engine.State().Source("spamfeed.list").Items); got != 1 {
		t.Fatalf("items = %d, want 1 (no mutation on rejection)", got)
	}
}

func TestSweepStalePolicy(t *testing.T) {
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	t.Run("expiry precedes never-touched", func(t *testing.T) {
		engine := NewDiffEngine(NewState())
		src := engine.State().Source("spamfeed.list")
		// Untouched this round and already past expiry: expiry wins.
		src.Items["url:u"] = &Item{
			RecordID:  "rec-1",
			ExpiresAt: now.Add(-time.Hour),
			Payload:   domain.Event{"id": "rec-1", "url": "u"},
		}

		changes := engine.SweepStale("spamfeed.list", now)
		if len(changes) != 1 {
			t.Fatalf("changes = %d, want 1", len(changes))
		}
		if changes[0].Transition != TransitionExpired {
			t.Fatalf("transition = %v, want TransitionExpired", changes[0].Transition)
		}
	})

	t.Run("untouched but unexpired is delisted", func(t *testing.T) {
		engine := NewDiffEngine(NewState())
		src := engine.State().Source("spamfeed.list")
		src.Items["url:u"] = &Item{
			RecordID:  "rec-1",
			ExpiresAt: now.Add(time.Hour),
			Payload:   domain.Event{"id": "rec-1", "url": "u"},
		}

		changes := engine.SweepStale("spamfeed.list", now)
		if len(changes) != 1 || changes[0].Transition != TransitionDelisted {
			t.Fatalf("changes = %+v, want one TransitionDelisted", changes)
		}
		if got := changes[0].Payload["id"]; got != "rec-1" {
			t.Fatalf("delist payload id = %v, want last known rec-1", got)
		}
	})

	t.Run("touched but expired is still expired", func(t *testing.T) {
		engine := NewDiffEngine(NewState())
		src := engine.State().Source("spamfeed.list")
		src.Items["url:u"] = &Item{
			RecordID:   "rec-1",
			SeriesFlag: "series-1",
			ExpiresAt:  now.Add(-time.Minute),
			Payload:    domain.Event{"id": "rec-1", "url": "u"},
		}

		changes := engine.SweepStale("spamfeed.list", now)
		if len(changes) != 1 || changes[0].Transition != TransitionExpired {
			t.Fatalf("changes = %+v, want one TransitionExpired", changes)
		}
	})

	t.Run("survivors get their flag cleared", func(t *testing.T) {
		engine := NewDiffEngine(NewState())
		src := engine.State().Source("spamfeed.list")
		src.Items["url:u"] = &Item{
			RecordID:   "rec-1",
			SeriesFlag: "series-1",
			ExpiresAt:  now.Add(time.Hour),
			Payload:    domain.Event{"id": "rec-1", "url": "u"},
		}

		if changes := engine.SweepStale("spamfeed.list", now); len(changes) != 0 {
			t.Fatalf("changes = %+v, want none", changes)
		}
		if got := src.Items["url:u"].SeriesFlag; got != "" {
			t.Fatalf("flag = %q, want cleared", got)
		}
	})
}
