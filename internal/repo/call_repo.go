// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Call and
// TranscriptEntry rows written by the call-event webhooks.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// ErrCallFinalized is returned when an end event arrives for a call that was
// already finalized and carries nothing to backfill.
var ErrCallFinalized = errors.New("call already finalized")

// ProcessingLease bounds how long one end event may own the summarize and
// materialize pipeline of a call before a retry may take it over.
const ProcessingLease = 5 * time.Minute

// GetCallByExternalID returns the call with the platform identifier externalID
// inside tenantID.
func GetCallByExternalID(ctx context.Context, db *gorm.DB, tenantID, externalID string) (*domain.Call, error) {
	var c domain.Call
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCall returns the existing call for (tenantID, externalID) or creates a
// new in-progress one started at startedAt. Concurrent creators converge on a
// single row via the unique (tenant_id, external_id) index.
func UpsertCall(ctx context.Context, db *gorm.DB, tenantID, externalID string, startedAt time.Time) (*domain.Call, error) {
	if c, err := GetCallByExternalID(ctx, db, tenantID, externalID); err == nil {
		return c, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	c := &domain.Call{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ExternalID: externalID,
		Status:     domain.CallInProgress,
		StartedAt:  startedAt.UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; read the winner.
		return GetCallByExternalID(ctx, db, tenantID, externalID)
	}
	return c, nil
}

// FinalizeCall moves an in-progress call to ended. For a call that is already
// finalized only DurationSec may change, and only while it is still zero; any
// other end event on a finalized call yields ErrCallFinalized.
func FinalizeCall(ctx context.Context, db *gorm.DB, call *domain.Call, endedAt time.Time, durationSec int) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	if durationSec <= 0 {
		durationSec = int(endedAt.Sub(call.StartedAt).Seconds())
		if durationSec < 0 {
			durationSec = 0
		}
	}

	if call.Finalized() {
		if call.DurationSec != 0 || durationSec == 0 {
			return ErrCallFinalized
		}
		res := db.WithContext(ctx).
			Model(&domain.Call{}).
			Where("id = ? AND tenant_id = ? AND duration_sec = 0", call.ID, call.TenantID).
			Update("duration_sec", durationSec)
		if res.Error != nil {
			return res.Error
		}
		call.DurationSec = durationSec
		return nil
	}

	end := endedAt.UTC()
	lease := time.Now().UTC().Add(ProcessingLease)
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND tenant_id = ? AND status = ?", call.ID, call.TenantID, domain.CallInProgress).
		Updates(map[string]any{
			"status":           domain.CallEnded,
			"ended_at":         end,
			"duration_sec":     durationSec,
			"processing_until": lease,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCallFinalized
	}
	call.Status = domain.CallEnded
	call.EndedAt = &end
	call.DurationSec = durationSec
	call.ProcessingUntil = &lease
	return nil
}

// ClaimCallProcessing takes the processing lease of an ended call whose
// pipeline never completed. It reports false when the call is processed
// already or another end event holds an unexpired lease.
func ClaimCallProcessing(ctx context.Context, db *gorm.DB, call *domain.Call) (bool, error) {
	now := time.Now().UTC()
	lease := now.Add(ProcessingLease)
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND tenant_id = ? AND status = ? AND processed_at IS NULL", call.ID, call.TenantID, domain.CallEnded).
		Where("processing_until IS NULL OR processing_until < ?", now).
		Update("processing_until", lease)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	call.ProcessingUntil = &lease
	return true, nil
}

// ReleaseCallProcessing drops the processing lease. When done is true the
// call is marked processed and later end events are plain duplicates.
func ReleaseCallProcessing(ctx context.Context, db *gorm.DB, call *domain.Call, done bool) error {
	updates := map[string]any{"processing_until": nil}
	var at time.Time
	if done {
		at = time.Now().UTC()
		updates["processed_at"] = at
	}
	err := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("id = ? AND tenant_id = ?", call.ID, call.TenantID).
		Updates(updates).Error
	if err != nil {
		return err
	}
	call.ProcessingUntil = nil
	if done {
		call.ProcessedAt = &at
	}
	return nil
}

// FailStaleCalls marks in-progress calls of tenantID as failed when they
// started before cutoff and recorded no transcript entry since. It returns
// the number of calls marked.
func FailStaleCalls(ctx context.Context, db *gorm.DB, tenantID string, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	recent := db.Model(&domain.TranscriptEntry{}).
		Select("1").
		Where("transcript_entries.call_id = calls.id AND transcript_entries.created_at >= ?", cutoff)
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("tenant_id = ? AND status = ? AND started_at < ?", tenantID, domain.CallInProgress, cutoff).
		Where("NOT EXISTS (?)", recent).
		Updates(map[string]any{"status": domain.CallFailed, "ended_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// AppendTranscript inserts entries for callID. Entries whose (call_id, seq)
// already exists are skipped, so re-delivered events are harmless. It
// returns the number of rows actually inserted.
func AppendTranscript(ctx context.Context, db *gorm.DB, tenantID, callID string, entries []domain.TranscriptEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([]domain.TranscriptEntry, len(entries))
	now := time.Now().UTC()
	for i, e := range entries {
		e.ID = uuid.NewString()
		e.TenantID = tenantID
		e.CallID = callID
		if e.SpokenAt.IsZero() {
			e.SpokenAt = now
		}
		e.CreatedAt = now
		rows[i] = e
	}
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}, {Name: "seq"}},
			DoNothing: true,
		}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

// ListTranscript returns the transcript for callID ordered by Seq.
func ListTranscript(ctx context.Context, db *gorm.DB, tenantID, callID string) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND call_id = ?", tenantID, callID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// NextSeq returns one past the highest Seq stored for callID (1 for an empty
// transcript).
func NextSeq(ctx context.Context, db *gorm.DB, tenantID, callID string) (int, error) {
	var row struct{ Seq int }
	err := db.WithContext(ctx).
		Model(&domain.TranscriptEntry{}).
		Select("seq").
		Where("tenant_id = ? AND call_id = ?", tenantID, callID).
		Order("seq DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Seq + 1, nil
}
