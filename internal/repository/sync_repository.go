package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/checkride-sync/internal/models"
)

// SyncRepository stores tombstones, parked inbound records and pull cursors.
type SyncRepository struct {
	db *sqlx.DB
}

// NewSyncRepository constructs a SyncRepository.
func NewSyncRepository(db *sqlx.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// RecordTombstone remembers a deletion. Existing tombstones are kept.
func (r *SyncRepository) RecordTombstone(ctx context.Context, tombstone models.Tombstone) error {
	if _, err := r.db.NamedExecContext(ctx, insertTombstoneQuery, &tombstone); err != nil {
		return fmt.Errorf("record tombstone: %w", err)
	}
	return nil
}

// IsTombstoned reports whether the record was deleted locally or remotely.
func (r *SyncRepository) IsTombstoned(ctx context.Context, recordType models.RecordType, id string) (bool, error) {
	query := r.db.Rebind(`SELECT 1 FROM sync_tombstones WHERE record_type = ? AND record_id = ?`)
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, recordType, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return true, nil
}

// ListPending returns undelivered tombstones for shareID.
func (r *SyncRepository) ListPending(ctx context.Context, shareID string) ([]models.Tombstone, error) {
	query := r.db.Rebind(`SELECT record_type, record_id, share_id, deleted_at, delivered FROM sync_tombstones
WHERE share_id = ? AND delivered = ? ORDER BY deleted_at ASC, record_type ASC`)
	var tombstones []models.Tombstone
	if err := r.db.SelectContext(ctx, &tombstones, query, shareID, false); err != nil {
		return nil, fmt.Errorf("list pending tombstones: %w", err)
	}
	return tombstones, nil
}

// CountPending counts undelivered tombstones across all shares.
func (r *SyncRepository) CountPending(ctx context.Context) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM sync_tombstones WHERE delivered = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, false); err != nil {
		return 0, fmt.Errorf("count pending tombstones: %w", err)
	}
	return count, nil
}

// MarkDelivered flags a tombstone as delivered to the shared store.
func (r *SyncRepository) MarkDelivered(ctx context.Context, recordType models.RecordType, id string) error {
	query := r.db.Rebind(`UPDATE sync_tombstones SET delivered = ? WHERE record_type = ? AND record_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, true, recordType, id); err != nil {
		return fmt.Errorf("mark tombstone delivered: %w", err)
	}
	return nil
}

// GetCursor returns the last pull token for shareID, or "" before the first pull.
func (r *SyncRepository) GetCursor(ctx context.Context, shareID string) (string, error) {
	query := r.db.Rebind(`SELECT token FROM sync_cursors WHERE share_id = ?`)
	var token string
	if err := r.db.GetContext(ctx, &token, query, shareID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get sync cursor: %w", err)
	}
	return token, nil
}

// SaveCursor stores the pull token for shareID.
func (r *SyncRepository) SaveCursor(ctx context.Context, shareID, token string) error {
	cursor := models.SyncCursor{ShareID: shareID, Token: token, UpdatedAt: models.Timestamp(time.Now())}
	const query = `INSERT INTO sync_cursors (share_id, token, updated_at) VALUES (:share_id, :token, :updated_at)
ON CONFLICT (share_id) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, &cursor); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

// ResetCursor forgets the pull position so the next pull starts from a snapshot.
func (r *SyncRepository) ResetCursor(ctx context.Context, shareID string) error {
	query := r.db.Rebind(`DELETE FROM sync_cursors WHERE share_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, shareID); err != nil {
		return fmt.Errorf("reset sync cursor: %w", err)
	}
	return nil
}

// ParkRecord stores an inbound record whose parent has not arrived. A parked
// copy is only replaced by a newer one.
func (r *SyncRepository) ParkRecord(ctx context.Context, record models.SyncRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode parked record: %w", err)
	}
	parked := models.ParkedRecord{
		ShareID:      record.ShareID,
		RecordType:   record.Type,
		RecordID:     record.ID,
		LastModified: models.Timestamp(record.LastModified),
		Payload:      string(payload),
		ParkedAt:     models.Timestamp(time.Now()),
	}
	const query = `INSERT INTO sync_parked (share_id, record_type, record_id, last_modified, payload, parked_at)
VALUES (:share_id, :record_type, :record_id, :last_modified, :payload, :parked_at)
ON CONFLICT (share_id, record_type, record_id) DO UPDATE
SET last_modified = EXCLUDED.last_modified, payload = EXCLUDED.payload, parked_at = EXCLUDED.parked_at
WHERE sync_parked.last_modified < EXCLUDED.last_modified`
	if _, err := r.db.NamedExecContext(ctx, query, &parked); err != nil {
		return fmt.Errorf("park record: %w", err)
	}
	return nil
}

// ListParked returns the parked records of shareID, oldest first.
func (r *SyncRepository) ListParked(ctx context.Context, shareID string) ([]models.SyncRecord, error) {
	query := r.db.Rebind(`SELECT share_id, record_type, record_id, last_modified, payload, parked_at FROM sync_parked
WHERE share_id = ? ORDER BY last_modified ASC, record_id ASC`)
	var rows []models.ParkedRecord
	if err := r.db.SelectContext(ctx, &rows, query, shareID); err != nil {
		return nil, fmt.Errorf("list parked records: %w", err)
	}
	records := make([]models.SyncRecord, 0, len(rows))
	for _, row := range rows {
		var record models.SyncRecord
		if err := json.Unmarshal([]byte(row.Payload), &record); err != nil {
			return nil, fmt.Errorf("decode parked record %s: %w", row.RecordID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// DropParked forgets a parked record once it has been applied or superseded.
func (r *SyncRepository) DropParked(ctx context.Context, key models.RecordKey) error {
	query := r.db.Rebind(`DELETE FROM sync_parked WHERE share_id = ? AND record_type = ? AND record_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, key.ShareID, key.Type, key.ID); err != nil {
		return fmt.Errorf("drop parked record: %w", err)
	}
	return nil
}

// CountParked counts the records of shareID still waiting on a parent.
func (r *SyncRepository) CountParked(ctx context.Context, shareID string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM sync_parked WHERE share_id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, shareID); err != nil {
		return 0, fmt.Errorf("count parked records: %w", err)
	}
	return count, nil
}
