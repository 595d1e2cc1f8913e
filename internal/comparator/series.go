package comparator

import (
	"time"

	"shrike/internal/domain"
)

// SeriesTracker follows each in-flight series (one snapshot-delivery round
// for one source) until it completes or stalls. A series that has closed is
// never reopened. The tracker owns no locking; the dispatcher serializes
// message handling and timer callbacks.
type SeriesTracker struct {
	clock   Clock
	timeout time.Duration
	series  map[string]*seriesRecord
}

type seriesRecord struct {
	source  string
	total   int
	seen    int
	serials map[int]struct{}
	records map[string]struct{}
	timer   TimerHandle
}

func NewSeriesTracker(clock Clock, timeout time.Duration) *SeriesTracker {
	return &SeriesTracker{
		clock:   clock,
		timeout: timeout,
		series:  make(map[string]*seriesRecord),
	}
}

// Admit checks an event against the bookkeeping of its series. An unknown
// series id is always admissible, it simply opens a new record.
func (t *SeriesTracker) Admit(ev domain.Event) error {
	seriesID := ev.SeriesID()
	rec, known := t.series[seriesID]
	if !known {
		return nil
	}

	total, _ := ev.SeriesTotal()
	if total != rec.total {
		return &SeriesAdmissionError{SeriesID: seriesID, Reason: "declared total disagrees with the open series"}
	}

	serial, _ := ev.SeriesNo()
	if _, dup := rec.serials[serial]; dup {
		return &SeriesAdmissionError{SeriesID: seriesID, Reason: "serial number already seen"}
	}

	// Cannot trip when serials were bounds-checked against the declared
	// total before admission; the tracker still refuses to overfill a
	// series for callers that admit events directly.
	if rec.seen+1 > rec.total {
		return &SeriesAdmissionError{SeriesID: seriesID, Reason: "member count would exceed declared total"}
	}
	return nil
}

// UpdateSeries records one admitted member, opening the series record on
// first contact.
func (t *SeriesTracker) UpdateSeries(ev domain.Event) {
	seriesID := ev.SeriesID()
	rec, known := t.series[seriesID]
	if !known {
		total, _ := ev.SeriesTotal()
		rec = &seriesRecord{
			source:  ev.Source(),
			total:   total,
			serials: make(map[int]struct{}),
			records: make(map[string]struct{}),
		}
		t.series[seriesID] = rec
	}

	serial, _ := ev.SeriesNo()
	rec.serials[serial] = struct{}{}
	rec.records[ev.RecordID()] = struct{}{}
	rec.seen++
}

// IsComplete reports whether every declared member of the series arrived.
func (t *SeriesTracker) IsComplete(seriesID string) bool {
	rec, known := t.series[seriesID]
	return known && rec.seen == rec.total
}

// IsOpen reports whether the series is still being tracked. A fired timeout
// for a closed series checks this and becomes a no-op.
func (t *SeriesTracker) IsOpen(seriesID string) bool {
	_, known := t.series[seriesID]
	return known
}

// ArmTimeout schedules fire to run if no further member of the series arrives
// within the configured timeout, replacing any previously armed timer. The
// deadline is measured from the last member, not from series start.
func (t *SeriesTracker) ArmTimeout(seriesID string, fire func(source, seriesID string)) {
	rec, known := t.series[seriesID]
	if !known {
		return
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	source := rec.source
	rec.timer = t.clock.AfterFunc(t.timeout, func() {
		fire(source, seriesID)
	})
}

// CloseSeries cancels the pending timer and drops the record. Closing an
// already-closed series is a no-op, so the completion and timeout paths can
// race to it safely. Reports whether the series was still open.
func (t *SeriesTracker) CloseSeries(seriesID string) bool {
	rec, known := t.series[seriesID]
	if !known {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	delete(t.series, seriesID)
	return true
}
