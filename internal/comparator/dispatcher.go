package comparator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"shrike/internal/domain"
)

// Publisher delivers one formatted output event under its routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// StateStore persists the comparator state after meaningful mutations.
type StateStore interface {
	Save(state *State) error
}

// Options configures a Dispatcher.
type Options struct {
	Clock         Clock
	SeriesTimeout time.Duration
	// StrictOrdering restores the historical behavior of halting the whole
	// consumer on a batch-time regression instead of rejecting the message.
	StrictOrdering bool
}

// Dispatcher drives the diff engine and the series tracker for each inbound
// message and owns the only mutable comparator state. A single mutex
// serializes message handling with timer callbacks, so per-source state needs
// no further locking.
type Dispatcher struct {
	mu      sync.Mutex
	engine  *DiffEngine
	tracker *SeriesTracker
	store   StateStore
	pub     Publisher
	strict  bool
}

func NewDispatcher(state *State, store StateStore, pub Publisher, opts Options) *Dispatcher {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	timeout := opts.SeriesTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Dispatcher{
		engine:  NewDiffEngine(state),
		tracker: NewSeriesTracker(clock, timeout),
		store:   store,
		pub:     pub,
		strict:  opts.StrictOrdering,
	}
}

// StrictOrdering reports whether a batch-time regression should terminate the
// consumer rather than just the offending message.
func (d *Dispatcher) StrictOrdering() bool { return d.strict }

// HandleMessage processes one inbound enriched event. A returned error is
// scoped to this message; the caller decides redelivery and whether an
// ordering violation is fatal.
func (d *Dispatcher) HandleMessage(ctx context.Context, body []byte) error {
	ev, err := domain.DecodeEvent(body)
	if err != nil {
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := validateHeaders(ev); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.tracker.Admit(ev); err != nil {
		return err
	}

	seriesID := ev.SeriesID()
	source := ev.Source()

	d.tracker.UpdateSeries(ev)
	d.tracker.ArmTimeout(seriesID, d.onSeriesTimeout)

	transition, payload, err := d.engine.ProcessEvent(source, ev)
	if err != nil {
		return err
	}

	if transition != TransitionNone {
		if err := d.publish(ctx, source, transition, payload); err != nil {
			log.Error("Failed to publish transition event",
				"source", source, "type", transition.EventType(), "error", err)
		}
	}

	if d.tracker.IsComplete(seriesID) {
		d.completeSeries(ctx, source, seriesID)
	}
	return nil
}

// onSeriesTimeout fires on the timer goroutine when a series stalls. It runs
// the same completion path as normal delivery unless the series already
// closed in the meantime.
func (d *Dispatcher) onSeriesTimeout(source, seriesID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.tracker.IsOpen(seriesID) {
		return
	}
	log.Warn("Series stalled, forcing completion", "source", source, "series", seriesID)
	d.completeSeries(context.Background(), source, seriesID)
}

// completeSeries sweeps the source, closes the series and flushes durable
// state. Callers hold d.mu.
func (d *Dispatcher) completeSeries(ctx context.Context, source, seriesID string) {
	if !d.tracker.CloseSeries(seriesID) {
		return
	}

	now := d.engine.CursorTime(source)
	changes := d.engine.SweepStale(source, now)
	for _, change := range changes {
		if err := d.publish(ctx, source, change.Transition, change.Payload); err != nil {
			log.Error("Failed to publish sweep event",
				"source", source, "type", change.Transition.EventType(), "error", err)
		}
	}

	log.Info("Series completed", "source", source, "series", seriesID, "swept", len(changes))

	if err := d.store.Save(d.engine.State()); err != nil {
		// Processing continues with in-memory state only; the next flush
		// retries the full snapshot.
		log.Error("Failed to persist comparator state", "source", source, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, source string, transition Transition, payload domain.Event) error {
	out := payload.Clone()
	out.StripSeriesBookkeeping()
	out[domain.FieldType] = transition.EventType()

	body, err := out.Encode()
	if err != nil {
		return err
	}
	routingKey := fmt.Sprintf("%s.compared.%s", transition.EventType(), source)
	return d.pub.Publish(ctx, routingKey, body)
}

func validateHeaders(ev domain.Event) error {
	if _, _, ok := ev.SourceParts(); !ok {
		return &ValidationError{Field: domain.FieldSource, Reason: "must be a dotted label.channel identifier"}
	}
	if ev.RecordID() == "" {
		return &ValidationError{Field: domain.FieldRecordID, Reason: "is required"}
	}
	if ev.SeriesID() == "" {
		return &ValidationError{Field: domain.FieldSeriesID, Reason: "is required"}
	}
	total, ok := ev.SeriesTotal()
	if !ok || total < 1 {
		return &ValidationError{Field: domain.FieldSeriesTotal, Reason: "must be a positive integer"}
	}
	serial, ok := ev.SeriesNo()
	if !ok || serial < 1 || serial > total {
		return &ValidationError{Field: domain.FieldSeriesNo, Reason: "must be within the declared series"}
	}
	if _, err := ev.BatchTime(); err != nil {
		return &ValidationError{Field: domain.FieldBatchTime, Reason: err.Error()}
	}
	if _, err := ev.Expires(); err != nil {
		return &ValidationError{Field: domain.FieldExpires, Reason: err.Error()}
	}
	return nil
}
