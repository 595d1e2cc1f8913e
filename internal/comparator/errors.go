package comparator

import (
	"fmt"
	"time"
)

// ValidationError reports a missing or malformed required header field. The
// message is rejected without mutating any state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: field %q %s", e.Field, e.Reason)
}

// SeriesAdmissionError reports a message that contradicts the bookkeeping of
// an already-open series (duplicate serial, total mismatch, overflow).
type SeriesAdmissionError struct {
	SeriesID string
	Reason   string
}

func (e *SeriesAdmissionError) Error() string {
	return fmt.Sprintf("series %s rejected message: %s", e.SeriesID, e.Reason)
}

// IdentityError reports an event carrying none of url, fqdn or address, which
// leaves nothing to recognize the entry by across series.
type IdentityError struct {
	RecordID string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("event %s carries no url, fqdn or address", e.RecordID)
}

// OutOfOrderError reports a batch-time regression for a source. Upstream
// assigns batch times monotonically per source, so a regression signals an
// ordering violation the engine cannot paper over.
type OutOfOrderError struct {
	Source    string
	EventTime time.Time
	Cursor    time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("source %s: batch time %s precedes cursor %s",
		e.Source, e.EventTime.Format(time.RFC3339), e.Cursor.Format(time.RFC3339))
}
