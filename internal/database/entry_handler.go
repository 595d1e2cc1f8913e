package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shrike/internal/domain"
)

// InsertActiveEntry records a newly listed entry. Replayed deliveries update
// the existing row in place so the operation stays idempotent.
func InsertActiveEntry(ctx context.Context, entry domain.BlacklistEntry) error {
	entry.Status = domain.EntryStatusActive
	entry.ReplacedBy = ""

	err := DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "status", "url", "fqdn", "ips",
			"batch_time", "expires_at", "replaced_by", "payload",
		}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("insert active entry %s: %w", entry.RecordID, err)
	}
	return nil
}

// ReplaceEntry retires the entry identified by replacesRecordID and records
// its successor in a single transaction.
func ReplaceEntry(ctx context.Context, entry domain.BlacklistEntry, replacesRecordID string) error {
	entry.Status = domain.EntryStatusActive
	entry.ReplacedBy = ""

	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replacesRecordID != "" {
			result := tx.Model(&domain.BlacklistEntry{}).
				Where("record_id = ?", replacesRecordID).
				Updates(map[string]any{
					"status":      domain.EntryStatusReplaced,
					"replaced_by": entry.RecordID,
				})
			if result.Error != nil {
				return result.Error
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"source", "status", "url", "fqdn", "ips",
				"batch_time", "expires_at", "replaced_by", "payload",
			}),
		}).Create(&entry).Error
	})
	if err != nil {
		return fmt.Errorf("replace entry %s with %s: %w", replacesRecordID, entry.RecordID, err)
	}
	return nil
}

// RefreshEntryExpiry extends the lifetime of an already recorded entry.
func RefreshEntryExpiry(ctx context.Context, recordID string, expiresAt, batchTime time.Time) error {
	result := DB.WithContext(ctx).Model(&domain.BlacklistEntry{}).
		Where("record_id = ?", recordID).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"batch_time": batchTime,
		})
	if result.Error != nil {
		return fmt.Errorf("refresh entry %s: %w", recordID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("refresh entry %s: no such record", recordID)
	}
	return nil
}

// MarkEntryDelisted moves an entry into its terminal delisted state.
func MarkEntryDelisted(ctx context.Context, recordID string, batchTime time.Time) error {
	return markEntryTerminal(ctx, recordID, domain.EntryStatusDelisted, batchTime)
}

// MarkEntryExpired moves an entry into its terminal expired state.
func MarkEntryExpired(ctx context.Context, recordID string, batchTime time.Time) error {
	return markEntryTerminal(ctx, recordID, domain.EntryStatusExpired, batchTime)
}

func markEntryTerminal(ctx context.Context, recordID, status string, batchTime time.Time) error {
	result := DB.WithContext(ctx).Model(&domain.BlacklistEntry{}).
		Where("record_id = ?", recordID).
		Updates(map[string]any{
			"status":     status,
			"batch_time": batchTime,
		})
	if result.Error != nil {
		return fmt.Errorf("mark entry %s %s: %w", recordID, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("mark entry %s %s: no such record", recordID, status)
	}
	return nil
}

// ListSourceSummaries aggregates the recorded entries per feed.
func ListSourceSummaries(ctx context.Context) ([]domain.SourceSummary, error) {
	var summaries []domain.SourceSummary
	err := DB.WithContext(ctx).Model(&domain.BlacklistEntry{}).
		Select("source, count(*) as total, sum(case when status = ? then 1 else 0 end) as active, max(batch_time) as last_seen_at", domain.EntryStatusActive).
		Group("source").
		Order("source").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("list source summaries: %w", err)
	}
	return summaries, nil
}

// EntryFilter narrows ListEntries results.
type EntryFilter struct {
	Source string
	Status string
	Limit  int
}

const defaultEntryLimit = 100

// ListEntries returns recorded entries, newest first.
func ListEntries(ctx context.Context, filter EntryFilter) ([]domain.BlacklistEntry, error) {
	query := DB.WithContext(ctx).Model(&domain.BlacklistEntry{})
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultEntryLimit
	}

	var entries []domain.BlacklistEntry
	err := query.Order("updated_at desc, id desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// PurgeTerminalEntries deletes replaced, delisted, and expired entries whose
// last update is older than the cutoff. It returns the number of rows removed.
func PurgeTerminalEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	result := DB.WithContext(ctx).
		Where("status IN ?", []string{
			domain.EntryStatusReplaced,
			domain.EntryStatusDelisted,
			domain.EntryStatusExpired,
		}).
		Where("updated_at < ?", cutoff).
		Delete(&domain.BlacklistEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge terminal entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetEntryByRecordID looks up one entry; gorm.ErrRecordNotFound when absent.
func GetEntryByRecordID(ctx context.Context, recordID string) (domain.BlacklistEntry, error) {
	var entry domain.BlacklistEntry
	err := DB.WithContext(ctx).Where("record_id = ?", recordID).First(&entry).Error
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	return entry, nil
}
