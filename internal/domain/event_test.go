package domain

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC)

	for _, raw := range []string{
		"2026-01-10T12:30:00Z",
		"2026-01-10 12:30:00",
		"2026-01-10T12:30:00",
	} {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) returned error: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", raw, got, want)
		}
	}

	if _, err := ParseTimestamp(""); err == nil {
		t.Error("empty timestamp was accepted")
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("garbage timestamp was accepted")
	}
}

func TestIPsSortedAndDeduplicated(t *testing.T) {
	ev := Event{
		FieldAddress: []any{
			map[string]any{"ip": "9.9.9.9"},
			map[string]any{"ip": "1.1.1.1"},
			map[string]any{"ip": "9.9.9.9"},
			map[string]any{"cc": "DE"},
		},
	}

	ips := ev.IPs()
	if len(ips) != 2 || ips[0] != "1.1.1.1" || ips[1] != "9.9.9.9" {
		t.Fatalf("IPs() = %v, want [1.1.1.1 9.9.9.9]", ips)
	}
}

func TestCloneIsDeep(t *testing.T) {
	ev := Event{
		FieldSource: "spamfeed.list",
		"meta":      map[string]any{"listed_by": "analyst"},
		FieldAddress: []any{
			map[string]any{"ip": "1.1.1.1"},
		},
	}

	clone := ev.Clone()
	clone["meta"].(map[string]any)["listed_by"] = "tampered"
	clone[FieldAddress].([]any)[0].(map[string]any)["ip"] = "6.6.6.6"

	if ev["meta"].(map[string]any)["listed_by"] != "analyst" {
		t.Error("clone shares nested map with original")
	}
	if ev.IPs()[0] != "1.1.1.1" {
		t.Error("clone shares address list with original")
	}
}

func TestStripSeriesBookkeeping(t *testing.T) {
	ev := Event{
		FieldRecordID:    "rec-1",
		FieldSeriesID:    "series-1",
		FieldSeriesTotal: 3,
		FieldSeriesNo:    1,
		"custom":         "kept",
	}

	ev.StripSeriesBookkeeping()

	for _, key := range []string{FieldSeriesID, FieldSeriesTotal, FieldSeriesNo} {
		if _, present := ev[key]; present {
			t.Errorf("field %q survived stripping", key)
		}
	}
	if ev.RecordID() != "rec-1" || ev["custom"] != "kept" {
		t.Error("stripping removed non-bookkeeping fields")
	}
}

func TestSourceParts(t *testing.T) {
	ev := Event{FieldSource: "spamfeed.drop.list"}
	label, channel, ok := ev.SourceParts()
	if !ok || label != "spamfeed" || channel != "drop.list" {
		t.Fatalf("SourceParts() = %q, %q, %v", label, channel, ok)
	}

	for _, bad := range []string{"", "nodot", ".leading", "trailing."} {
		ev := Event{FieldSource: bad}
		if _, _, ok := ev.SourceParts(); ok {
			t.Errorf("SourceParts accepted %q", bad)
		}
	}
}
