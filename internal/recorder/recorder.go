// Package recorder persists comparison events into the relational store,
// tracking each blacklist member's lifecycle.
package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"shrike/internal/bus"
	"shrike/internal/database"
	"shrike/internal/domain"
)

type Recorder struct {
	consumer bus.Consumer
}

func New(consumer bus.Consumer) *Recorder {
	return &Recorder{consumer: consumer}
}

// Run consumes comparison events until ctx is cancelled. Persistence errors
// are logged and the event is dropped; a poison message never wedges the
// queue.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		delivery, err := r.consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("recorder: receive: %w", err)
		}

		ev, err := domain.DecodeEvent(delivery.Body)
		if err != nil {
			log.Error("Dropping undecodable comparison event", "error", err)
			continue
		}

		if err := r.Apply(ctx, ev); err != nil {
			log.Error("Failed to record comparison event",
				"type", ev.Type(),
				"record_id", ev.RecordID(),
				"source", ev.Source(),
				"error", err,
			)
		}
	}
}

// Apply maps one comparison event onto the store.
func (r *Recorder) Apply(ctx context.Context, ev domain.Event) error {
	eventType := ev.Type()

	switch eventType {
	case domain.EventTypeNew, domain.EventTypeChange:
		entry, err := domain.EntryFromEvent(ev)
		if err != nil {
			return fmt.Errorf("map event %s: %w", ev.RecordID(), err)
		}
		if eventType == domain.EventTypeNew {
			return database.InsertActiveEntry(ctx, entry)
		}
		return database.ReplaceEntry(ctx, entry, ev.Replaces())

	case domain.EventTypeUpdate:
		expires, err := ev.Expires()
		if err != nil {
			return fmt.Errorf("map event %s: %w", ev.RecordID(), err)
		}
		batchTime, err := ev.BatchTime()
		if err != nil {
			return fmt.Errorf("map event %s: %w", ev.RecordID(), err)
		}
		return database.RefreshEntryExpiry(ctx, ev.RecordID(), expires, batchTime)

	case domain.EventTypeDelist:
		batchTime, err := ev.BatchTime()
		if err != nil {
			return fmt.Errorf("map event %s: %w", ev.RecordID(), err)
		}
		return database.MarkEntryDelisted(ctx, ev.RecordID(), batchTime)

	case domain.EventTypeExpire:
		batchTime, err := ev.BatchTime()
		if err != nil {
			return fmt.Errorf("map event %s: %w", ev.RecordID(), err)
		}
		return database.MarkEntryExpired(ctx, ev.RecordID(), batchTime)

	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}
