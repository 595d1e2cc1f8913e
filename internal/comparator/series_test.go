package comparator

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func seriesEvent(seriesID string, total, serial int) map[string]any {
	return baseEvent(map[string]any{
		"id":           fmt.Sprintf("rec-%s-%d", seriesID, serial),
		"series_id":    seriesID,
		"series_total": total,
		"series_no":    serial,
	})
}

func TestSeriesAdmission(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tracker := NewSeriesTracker(clock, time.Minute)

	if err := tracker.Admit(seriesEvent("s1", 3, 1)); err != nil {
		t.Fatalf("unknown series must be admissible, got %v", err)
	}
	tracker.UpdateSeries(seriesEvent("s1", 3, 1))

	t.Run("total mismatch", func(t *testing.T) {
		err := tracker.Admit(seriesEvent("s1", 5, 2))
		var admissionErr *SeriesAdmissionError
		if !errors.As(err, &admissionErr) {
			t.Fatalf("error = %v, want SeriesAdmissionError", err)
		}
	})

	t.Run("duplicate serial", func(t *testing.T) {
		err := tracker.Admit(seriesEvent("s1", 3, 1))
		var admissionErr *SeriesAdmissionError
		if !errors.As(err, &admissionErr) {
			t.Fatalf("error = %v, want SeriesAdmissionError", err)
		}
	})

	t.Run("valid next member", func(t *testing.T) {
		if err := tracker.Admit(seriesEvent("s1", 3, 2)); err != nil {
			t.Fatalf("second member: %v", err)
		}
	})
}

func TestSeriesAdmissionRefusesOverfill(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tracker := NewSeriesTracker(clock, time.Minute)

	for serial := 1; serial <= 2; serial++ {
		tracker.UpdateSeries(seriesEvent("s1", 2, serial))
	}

	// A serial outside the declared range only reaches the tracker when the
	// caller skipped header validation.
	err := tracker.Admit(seriesEvent("s1", 2, 3))
	var admissionErr *SeriesAdmissionError
	if !errors.As(err, &admissionErr) {
		t.Fatalf("error = %v, want SeriesAdmissionError", err)
	}
}

func TestSeriesCompletion(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tracker := NewSeriesTracker(clock, time.Minute)

	const total = 4
	for serial := 1; serial <= total; serial++ {
		ev := seriesEvent("s1", total, serial)
		if err := tracker.Admit(ev); err != nil {
			t.Fatalf("member %d: %v", serial, err)
		}
		tracker.UpdateSeries(ev)
		if serial < total && tracker.IsComplete("s1") {
			t.Fatalf("series complete after %d of %d members", serial, total)
		}
	}

	if !tracker.IsComplete("s1") {
		t.Fatalf("series not complete after all %d members", total)
	}
}

func TestArmTimeoutReplacesPreviousTimer(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tracker := NewSeriesTracker(clock, time.Minute)

	fired := 0
	fire := func(source, seriesID string) { fired++ }

	tracker.UpdateSeries(seriesEvent("s1", 3, 1))
	tracker.ArmTimeout("s1", fire)

	// A new member rearms the deadline, cancelling the earlier timer.
	clock.Advance(30 * time.Second)
	tracker.UpdateSeries(seriesEvent("s1", 3, 2))
	tracker.ArmTimeout("s1", fire)

	clock.Advance(45 * time.Second)
	if fired != 0 {
		t.Fatalf("timer fired %d times before the rearmed deadline", fired)
	}

	clock.Advance(20 * time.Second)
	if fired != 1 {
		t.Fatalf("timer fired %d times, want 1", fired)
	}
}

func TestCloseSeriesIsIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tracker := NewSeriesTracker(clock, time.Minute)

	tracker.UpdateSeries(seriesEvent("s1", 1, 1))
	tracker.ArmTimeout("s1", func(string, string) {
		t.Fatalf("timer fired for a closed series")
	})

	if !tracker.CloseSeries("s1") {
		t.Fatalf("first close reported the series as unknown")
	}
	if tracker.CloseSeries("s1") {
		t.Fatalf("second close must be a no-op")
	}
	if tracker.IsOpen("s1") {
		t.Fatalf("series still open after close")
	}

	// The armed timer was cancelled by the close.
	clock.Advance(2 * time.Minute)
	if got := clock.pendingTimers(); got != 0 {
		t.Fatalf("pending timers = %d, want 0", got)
	}
}
